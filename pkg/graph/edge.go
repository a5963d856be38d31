package graph

// EdgeIndex is a bidirectional multimap over record ids: parent-of and
// child-of edges. Both directions are kept as their own map
// (parents-by-child, children-by-parent) so either can be walked without a
// storage round trip.
type EdgeIndex struct {
	parents  map[string]map[string]bool // child -> set of parents
	children map[string]map[string]bool // parent -> set of children
}

// NewEdgeIndex returns an empty index.
func NewEdgeIndex() *EdgeIndex {
	return &EdgeIndex{
		parents:  make(map[string]map[string]bool),
		children: make(map[string]map[string]bool),
	}
}

// Edge is one persisted child/parent pair, the shape Populate consumes.
type Edge struct {
	ChildID  string
	ParentID string
}

// Populate loads the index from the persisted parent edges, called once at
// startup before the manager accepts sessions.
func (e *EdgeIndex) Populate(edges []Edge) {
	for _, edge := range edges {
		e.AddParent(edge.ChildID, edge.ParentID)
	}
}

// AddParent records that parent is a parent of child. Idempotent.
func (e *EdgeIndex) AddParent(child, parent string) {
	if e.parents[child] == nil {
		e.parents[child] = make(map[string]bool)
	}
	e.parents[child][parent] = true

	if e.children[parent] == nil {
		e.children[parent] = make(map[string]bool)
	}
	e.children[parent][child] = true
}

// RemoveParent removes a single parent/child edge, if present.
func (e *EdgeIndex) RemoveParent(child, parent string) {
	if set, ok := e.parents[child]; ok {
		delete(set, parent)
		if len(set) == 0 {
			delete(e.parents, child)
		}
	}
	if set, ok := e.children[parent]; ok {
		delete(set, child)
		if len(set) == 0 {
			delete(e.children, parent)
		}
	}
}

// GetParents returns the direct parents of child.
func (e *EdgeIndex) GetParents(child string) []string {
	return keys(e.parents[child])
}

// GetChildren returns the direct children of parent.
func (e *EdgeIndex) GetChildren(parent string) []string {
	return keys(e.children[parent])
}

// HasChildren reports whether n has at least one child; used by the Volume
// derivation leaf check (a DeviceNode is only usable when it is a leaf).
func (e *EdgeIndex) HasChildren(n string) bool {
	return len(e.children[n]) > 0
}

// RemoveNode drops every edge incident to n, in either direction, and
// releases the now-empty slots. Called from cascading delete once a record
// has been fully torn down.
func (e *EdgeIndex) RemoveNode(n string) {
	for parent := range e.parents[n] {
		if set, ok := e.children[parent]; ok {
			delete(set, n)
			if len(set) == 0 {
				delete(e.children, parent)
			}
		}
	}
	delete(e.parents, n)

	for child := range e.children[n] {
		if set, ok := e.parents[child]; ok {
			delete(set, n)
			if len(set) == 0 {
				delete(e.parents, child)
			}
		}
	}
	delete(e.children, n)
}

// Descendants returns every record reachable by repeatedly following child
// edges from root, not including root itself. Used by alert propagation.
func (e *EdgeIndex) Descendants(root string) []string {
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for child := range e.children[n] {
			if visited[child] {
				continue
			}
			visited[child] = true
			walk(child)
		}
	}
	walk(root)
	return keys(visited)
}

// FindAncestor walks parents depth-first (declared-parent order is not
// preserved since edges are stored in a set) and returns the first
// ancestor whose class, per classOf, equals wantClassID, used to locate a
// device node's nearest logical drive.
func (e *EdgeIndex) FindAncestor(start string, classOf func(string) string, wantClassID string) (string, bool) {
	visited := make(map[string]bool)
	var walk func(string) (string, bool)
	walk = func(n string) (string, bool) {
		for parent := range e.parents[n] {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			if classOf(parent) == wantClassID {
				return parent, true
			}
			if found, ok := walk(parent); ok {
				return found, true
			}
		}
		return "", false
	}
	return walk(start)
}

// FindAncestorWhere walks parents depth-first and returns the first
// ancestor satisfying match, used where the target is a role (LogicalDrive,
// LogicalDriveOccupier) rather than a single exact class id, since several
// classes may carry the same role.
func (e *EdgeIndex) FindAncestorWhere(start string, match func(string) bool) (string, bool) {
	visited := make(map[string]bool)
	var walk func(string) (string, bool)
	walk = func(n string) (string, bool) {
		for parent := range e.parents[n] {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			if match(parent) {
				return parent, true
			}
			if found, ok := walk(parent); ok {
				return found, true
			}
		}
		return "", false
	}
	return walk(start)
}

// AnyDescendantWhere reports whether any descendant of root (not including
// root) satisfies match, stopping descent at the first node satisfying
// stopAt (exclusive of root). Used by the LogicalDrive occupancy check,
// which must not cross into a nested LogicalDrive's own subtree.
func (e *EdgeIndex) AnyDescendantWhere(root string, match, stopAt func(string) bool) bool {
	visited := make(map[string]bool)
	var walk func(string) bool
	walk = func(n string) bool {
		for child := range e.children[n] {
			if visited[child] {
				continue
			}
			visited[child] = true
			if match(child) {
				return true
			}
			if stopAt(child) {
				continue
			}
			if walk(child) {
				return true
			}
		}
		return false
	}
	return walk(root)
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
