package mib

import (
	"strconv"
	"strings"
)

// oidTrie stores symbolic names keyed by numeric OID arcs.
//
//	1 -> 3 -> 6 -> 1 -> 6 -> 3 -> 1 -> 1 -> 5 -> 1 (coldStart)
//	                                         -> 2 (warmStart)
type oidTrie struct {
	root *trieNode
	size int
}

type trieNode struct {
	children map[uint32]*trieNode
	name     string
}

func newOIDTrie() *oidTrie {
	return &oidTrie{root: &trieNode{}}
}

// insert binds name to oid, replacing any previous binding.
func (t *oidTrie) insert(oid, name string) bool {
	arcs, ok := parseArcs(oid)
	if !ok || len(arcs) == 0 {
		return false
	}

	node := t.root
	for _, arc := range arcs {
		if node.children == nil {
			node.children = make(map[uint32]*trieNode)
		}
		child, exists := node.children[arc]
		if !exists {
			child = &trieNode{}
			node.children[arc] = child
		}
		node = child
	}

	if node.name == "" {
		t.size++
	}
	node.name = name
	return true
}

// longestPrefix returns the name bound to the deepest named ancestor of oid
// (including oid itself) and the arcs that follow it.
func (t *oidTrie) longestPrefix(oid string) (string, []uint32, bool) {
	arcs, ok := parseArcs(oid)
	if !ok {
		return "", nil, false
	}

	var (
		name  string
		depth int
		node  = t.root
	)
	for i, arc := range arcs {
		child, exists := node.children[arc]
		if !exists {
			break
		}
		node = child
		if node.name != "" {
			name, depth = node.name, i+1
		}
	}

	if name == "" {
		return "", nil, false
	}
	return name, arcs[depth:], true
}

func parseArcs(oid string) ([]uint32, bool) {
	oid = strings.Trim(strings.TrimSpace(oid), ".")
	if oid == "" {
		return nil, false
	}

	parts := strings.Split(oid, ".")
	arcs := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, false
		}
		arcs = append(arcs, uint32(n))
	}
	return arcs, true
}

func formatArcs(arcs []uint32) string {
	parts := make([]string, len(arcs))
	for i, a := range arcs {
		parts[i] = strconv.FormatUint(uint64(a), 10)
	}
	return strings.Join(parts, ".")
}
