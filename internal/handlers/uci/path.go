package uci

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("uci: invalid path")

// Path addresses package, section and option. Trailing parts may be empty
// for prefix operations such as revert.
type Path struct {
	Package string
	Section string
	Option  string
}

func (p Path) String() string {
	parts := []string{p.Package}
	if p.Section != "" {
		parts = append(parts, p.Section)
	}
	if p.Option != "" {
		parts = append(parts, p.Option)
	}
	return strings.Join(parts, ".")
}

func (p Path) key() []byte {
	return []byte(p.Section + "." + p.Option)
}

// ParseOption requires the full package.section.option form.
func ParseOption(raw string) (Path, error) {
	p, err := ParsePrefix(raw)
	if err != nil {
		return Path{}, err
	}
	if p.Option == "" {
		return Path{}, fmt.Errorf("%w: %q needs package.section.option", ErrInvalidPath, raw)
	}
	return p, nil
}

// ParsePrefix accepts package, package.section or package.section.option.
func ParsePrefix(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if raw == "" || len(parts) > 3 {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	for _, part := range parts {
		if !validName(part) {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
		}
	}
	var p Path
	p.Package = parts[0]
	if len(parts) > 1 {
		p.Section = parts[1]
	}
	if len(parts) > 2 {
		p.Option = parts[2]
	}
	return p, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
		if !ok {
			return false
		}
	}
	return true
}
