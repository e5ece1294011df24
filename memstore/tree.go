package memstore

import (
	"errors"
	"strings"
	"time"
)

// RootKey is the name carried by the root node. It never appears in paths.
const RootKey = "[root]"

// Info describes a node at the moment it was inspected.
type Info struct {
	Key     string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

// Tree is a root directory plus path resolution over it.
type Tree struct {
	root *Node
}

// NewTree returns a tree holding only an empty root directory.
func NewTree() *Tree {
	return &Tree{root: newNode(RootKey, nil)}
}

// Root returns the root directory.
func (t *Tree) Root() *Node {
	return t.root
}

// SplitKey breaks a "/"-delimited key into segments, dropping empty ones so
// that leading, trailing and repeated separators are ignored.
func SplitKey(key string) []string {
	return strings.FieldsFunc(key, func(r rune) bool { return r == '/' })
}

// splitParent separates the final segment from the ones leading to it.
func splitParent(key string) (parent []string, last string, ok bool) {
	segments := SplitKey(key)
	if len(segments) == 0 {
		return nil, "", false
	}
	return segments[:len(segments)-1], segments[len(segments)-1], true
}

// Find walks segments from the root. Each step searches the subtree of the
// previous result with Node.Get, so a segment may match a node several levels
// below where a literal path would put it. It returns nil as soon as a step
// finds nothing.
func (t *Tree) Find(segments []string) *Node {
	current := t.root
	for _, segment := range segments {
		next := current.Get(segment)
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// Create walks segments from the root like Find, adding a directory as a
// direct child of the current node whenever a segment is not found in its
// subtree. It returns the node reached by the last segment. Repeated calls
// with the same path create nothing new.
//
// The walk is not atomic. If a concurrent delete removes a segment between
// its creation and the following lookup, Create returns nil.
func (t *Tree) Create(segments []string) *Node {
	current := t.root
	for _, segment := range segments {
		if current.Get(segment) == nil {
			current.addDir(segment)
		}
		current = current.Get(segment)
		if current == nil {
			return nil
		}
	}
	return current
}

// WalkFunc is called for every node visited by Walk with its slash-joined
// path relative to the walk's starting node.
type WalkFunc func(path string, info Info) error

// SkipDir can be returned by a WalkFunc to skip the children of a directory.
var SkipDir = errors.New("skip this directory")

// walk visits the real structure below n in insertion order, unlike Get which
// matches keys anywhere in a subtree.
func walk(n *Node, prefix string, fn WalkFunc) error {
	for _, child := range n.Children() {
		path := child.key
		if prefix != "" {
			path = prefix + "/" + child.key
		}
		info := child.Info()
		if err := fn(path, info); err != nil {
			if errors.Is(err, SkipDir) {
				continue
			}
			return err
		}
		if info.IsDir {
			if err := walk(child, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
