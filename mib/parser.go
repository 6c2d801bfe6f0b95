package mib

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Parsing covers the assignments needed for translation:
//
//	name OBJECT IDENTIFIER ::= { parent n }
//	name OBJECT-TYPE ... ::= { parent n }
//	name NOTIFICATION-TYPE ... ::= { parent n }
//	name MODULE-IDENTITY ... ::= { parent n }
//
// Parents may be defined later in the same file or in another file, so
// definitions are collected first and resolved together.
var (
	commentRegex    = regexp.MustCompile(`--[^\n]*`)
	assignmentRegex = regexp.MustCompile(
		`(?m)^[ \t]*([a-z][A-Za-z0-9-]*)[ \t]+(OBJECT[ \t]+IDENTIFIER|OBJECT-TYPE|NOTIFICATION-TYPE|MODULE-IDENTITY|OBJECT-IDENTITY|NOTIFICATION-GROUP|OBJECT-GROUP)\b` +
			`(?s:.*?)::=\s*\{\s*([a-z][A-Za-z0-9-]*)\s+(\d+)\s*\}`)
)

// definition is an unresolved MIB assignment.
type definition struct {
	name   string
	parent string
	arc    string
}

// parseFile reads one MIB module and returns its assignments.
func parseFile(path string) ([]definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parseDefinitions(string(data)), nil
}

func parseDefinitions(src string) []definition {
	src = commentRegex.ReplaceAllString(src, "")

	matches := assignmentRegex.FindAllStringSubmatch(src, -1)
	defs := make([]definition, 0, len(matches))
	for _, m := range matches {
		defs = append(defs, definition{name: m[1], parent: m[3], arc: m[4]})
	}
	return defs
}

// resolve turns definitions into numeric OIDs, starting from known symbols.
// It iterates until no more definitions can be placed; orphans are returned.
func resolve(known map[string]string, defs []definition) (map[string]string, []definition) {
	resolved := make(map[string]string, len(defs))
	pending := defs

	for len(pending) > 0 {
		next := pending[:0:0]
		for _, d := range pending {
			parent, ok := resolved[d.parent]
			if !ok {
				parent, ok = known[d.parent]
			}
			if !ok {
				next = append(next, d)
				continue
			}
			resolved[d.name] = parent + "." + d.arc
		}
		if len(next) == len(pending) {
			return resolved, next
		}
		pending = next
	}

	return resolved, nil
}

func isMIBFile(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "."):
		return false
	case strings.HasSuffix(lower, ".mib"), strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".my"):
		return true
	default:
		return !strings.Contains(lower, ".")
	}
}
