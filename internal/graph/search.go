// Package graph walks decoded JSON-like object graphs.
package graph

import (
	"reflect"
	"sort"
)

// DefaultMaxDepth bounds how deep Find descends before giving up on a branch.
const DefaultMaxDepth = 64

// Node is a value visited during a search.
type Node struct {
	// Key is the nearest enclosing map key. Array elements inherit the key of
	// the array that holds them.
	Key string
	// Path lists every map key from the root down to this node.
	Path  []string
	Value any
	Depth int
}

// Predicate decides whether a visited node is the one being searched for.
type Predicate func(Node) bool

// Find performs a depth-first search of root and returns the first node the
// predicate accepts. Map keys are visited in sorted order so results do not
// depend on map iteration order. Containers already on the current path or
// already visited are skipped, which makes the walk safe on cyclic graphs.
func Find(root any, match Predicate) (Node, bool) {
	if match == nil {
		return Node{}, false
	}
	w := walker{match: match, seen: make(map[identity]struct{}), maxDepth: DefaultMaxDepth}
	return w.visit(Node{Value: root})
}

// FindString is Find restricted to string leaves.
func FindString(root any, match func(n Node, s string) bool) (string, bool) {
	node, ok := Find(root, func(n Node) bool {
		s, isString := n.Value.(string)
		return isString && match(n, s)
	})
	if !ok {
		return "", false
	}
	return node.Value.(string), true
}

type identity struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

type walker struct {
	match    Predicate
	seen     map[identity]struct{}
	maxDepth int
}

func (w walker) visit(n Node) (Node, bool) {
	if n.Value == nil {
		return Node{}, false
	}
	if w.match(n) {
		return n, true
	}
	if n.Depth >= w.maxDepth {
		return Node{}, false
	}

	switch v := n.Value.(type) {
	case string, bool, float64:
		return Node{}, false
	case map[string]any:
		if !w.enter(reflect.ValueOf(v)) {
			return Node{}, false
		}
		for _, key := range sortedKeys(v) {
			if found, ok := w.visit(child(n, key, v[key])); ok {
				return found, true
			}
		}
		return Node{}, false
	case []any:
		if !w.enter(reflect.ValueOf(v)) {
			return Node{}, false
		}
		for _, item := range v {
			if found, ok := w.visit(element(n, item)); ok {
				return found, true
			}
		}
		return Node{}, false
	}

	rv := reflect.ValueOf(n.Value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Node{}, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String || !w.enter(rv) {
			return Node{}, false
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, key := range keys {
			if found, ok := w.visit(child(n, key.String(), rv.MapIndex(key).Interface())); ok {
				return found, true
			}
		}
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Node{}, false
		}
		if rv.Kind() == reflect.Slice && !w.enter(rv) {
			return Node{}, false
		}
		for i := 0; i < rv.Len(); i++ {
			if found, ok := w.visit(element(n, rv.Index(i).Interface())); ok {
				return found, true
			}
		}
	}
	return Node{}, false
}

// enter records a container and reports whether it has not been seen yet.
func (w walker) enter(rv reflect.Value) bool {
	if rv.IsNil() {
		return false
	}
	id := identity{kind: rv.Kind(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		id.len = rv.Len()
	}
	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	return true
}

func child(parent Node, key string, value any) Node {
	path := make([]string, len(parent.Path), len(parent.Path)+1)
	copy(path, parent.Path)
	return Node{Key: key, Path: append(path, key), Value: value, Depth: parent.Depth + 1}
}

func element(parent Node, value any) Node {
	return Node{Key: parent.Key, Path: parent.Path, Value: value, Depth: parent.Depth + 1}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
