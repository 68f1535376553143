// Package client drives one wrtctl connection: it queues commands, flushes
// them and blocks until responses are framed or the wait times out. Batch
// replay and the text command grammar used by the wrtctl CLI live here too.
package client
