package validate

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// mapGet returns the value for key in a mapping node and the index of the
// key node in Content, or (nil, -1).
func mapGet(m *yaml.Node, key string) (*yaml.Node, int) {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil, -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1], i
		}
	}
	return nil, -1
}

func mapHas(m *yaml.Node, keys ...string) bool {
	for _, k := range keys {
		if v, _ := mapGet(m, k); v == nil {
			return false
		}
	}
	return true
}

func mapHasAny(m *yaml.Node, keys ...string) bool {
	for _, k := range keys {
		if v, _ := mapGet(m, k); v != nil {
			return true
		}
	}
	return false
}

// mapPrepend inserts key: value as the first pair of a mapping.
func mapPrepend(m *yaml.Node, key, value string) {
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
	m.Content = append([]*yaml.Node{k, v}, m.Content...)
}

// wrapInSequence turns a mapping value into a one-item sequence in place.
func wrapInSequence(n *yaml.Node) {
	item := *n
	*n = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: []*yaml.Node{&item}}
}

func scalarValues(n *yaml.Node) []string {
	switch n.Kind {
	case yaml.ScalarNode:
		return []string{n.Value}
	case yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			if c.Kind == yaml.ScalarNode {
				out = append(out, c.Value)
			}
		}
		return out
	}
	return nil
}

func keyPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}

// walkNodes visits every mapping pair below n depth-first.
func walkNodes(n *yaml.Node, path string, fn func(path, key string, value *yaml.Node)) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkNodes(c, path, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i].Value, n.Content[i+1]
			p := keyPath(path, key)
			fn(p, key, value)
			walkNodes(value, p, fn)
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			walkNodes(c, indexPath(path, i), fn)
		}
	}
}
