// Package tools provides process helpers shared by command handlers.
package tools
