package radix

import (
	"strings"
)

// Kind represents the type of node in the radix tree
type Kind uint8

const (
	// Static represents a static path segment
	Static Kind = iota
	// Param represents a parameter path segment (e.g., :id)
	Param
	// Wildcard represents a catch-all segment (e.g., * or *path)
	Wildcard
)

// WildcardParam is the parameter name used for an unnamed "*" segment.
const WildcardParam = "*"

// Node represents a node in the radix tree
type Node struct {
	// Path is the path segment this node represents
	Path string
	// Kind is the type of node (static, param, wildcard)
	Kind Kind
	// ParamName is the name of the parameter for Param and Wildcard nodes
	ParamName string
	// Handlers are the handlers registered at this node, keyed by HTTP method
	Handlers map[string]interface{}

	static   []*Node
	param    *Node
	wildcard *Node
}

func newNode(segment string, kind Kind, name string) *Node {
	return &Node{
		Path:      segment,
		Kind:      kind,
		ParamName: name,
	}
}

// Tree represents a radix tree for routing
type Tree struct {
	Root *Node
}

// NewTree creates a new radix tree
func NewTree() *Tree {
	return &Tree{Root: newNode("/", Static, "")}
}

// Insert adds a route to the radix tree. Segments starting with ':' capture one
// path segment, a trailing segment starting with '*' captures the rest of the
// path. Registering the same method and pattern twice replaces the handler.
func (t *Tree) Insert(pattern string, method string, handler interface{}) {
	current := t.Root

	segments := splitPath(pattern)
	for _, segment := range segments {
		switch {
		case segment[0] == ':':
			name := segment[1:]
			if current.param == nil {
				current.param = newNode(segment, Param, name)
			}
			current = current.param

		case segment[0] == '*':
			name := segment[1:]
			if name == "" {
				name = WildcardParam
			}
			if current.wildcard == nil {
				current.wildcard = newNode(segment, Wildcard, name)
			}
			current = current.wildcard

		default:
			var next *Node
			for _, child := range current.static {
				if child.Path == segment {
					next = child
					break
				}
			}
			if next == nil {
				next = newNode(segment, Static, "")
				current.static = append(current.static, next)
			}
			current = next
		}

		// anything after a wildcard can never match
		if current.Kind == Wildcard {
			break
		}
	}

	if current.Handlers == nil {
		current.Handlers = make(map[string]interface{})
	}
	current.Handlers[method] = handler
}

// Find looks up path and returns the handlers registered on the matching node.
// Static segments win over parameters, parameters over wildcards; when a more
// specific branch dead-ends the search backtracks. Captured values are written
// to params, which may be nil.
func (t *Tree) Find(path string, params map[string]string) (map[string]interface{}, bool) {
	segments := splitPath(path)
	node := t.Root.match(segments, params)
	if node == nil {
		return nil, false
	}
	return node.Handlers, true
}

func (n *Node) match(segments []string, params map[string]string) *Node {
	if len(segments) == 0 {
		if len(n.Handlers) > 0 {
			return n
		}
		if n.wildcard != nil && len(n.wildcard.Handlers) > 0 {
			setParam(params, n.wildcard.ParamName, "")
			return n.wildcard
		}
		return nil
	}

	segment, rest := segments[0], segments[1:]

	for _, child := range n.static {
		if child.Path == segment {
			if found := child.match(rest, params); found != nil {
				return found
			}
			break
		}
	}

	if n.param != nil {
		if found := n.param.match(rest, params); found != nil {
			setParam(params, n.param.ParamName, segment)
			return found
		}
	}

	if n.wildcard != nil && len(n.wildcard.Handlers) > 0 {
		setParam(params, n.wildcard.ParamName, strings.Join(segments, "/"))
		return n.wildcard
	}

	return nil
}

func setParam(params map[string]string, name, value string) {
	if params != nil {
		params[name] = value
	}
}

// splitPath splits a path into its non-empty segments.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}
