package memstore

import (
	"bytes"
	"slices"
	"sync"
	"time"
)

// Node is a single element of the storage tree. A node holding a payload is a
// file; a node without one is a directory. Every method locks only the
// receiver, and the lock is always released before a child is visited.
type Node struct {
	key string

	mu       sync.Mutex
	payload  []byte
	children []*Node
	sessions map[string][]Chunk
	modTime  time.Time
}

func newNode(key string, payload []byte) *Node {
	return &Node{
		key:      key,
		payload:  bytes.Clone(payload),
		sessions: make(map[string][]Chunk),
		modTime:  time.Now().UTC(),
	}
}

// Key returns the node's name among its siblings.
func (n *Node) Key() string {
	return n.key
}

// SetPayload replaces the payload. A nil payload turns the node into an empty
// directory. Children and multipart sessions are always discarded.
func (n *Node) SetPayload(payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setPayloadLocked(bytes.Clone(payload))
}

func (n *Node) setPayloadLocked(payload []byte) {
	n.payload = payload
	n.children = nil
	n.sessions = make(map[string][]Chunk)
	n.modTime = time.Now().UTC()
}

// Payload returns a copy of the payload, or nil for a directory.
func (n *Node) Payload() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return bytes.Clone(n.payload)
}

// IsDir reports whether the node has no payload.
func (n *Node) IsDir() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.payload == nil
}

// Size returns the payload length in bytes, 0 for directories.
func (n *Node) Size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payload)
}

// Info returns a point-in-time description of the node.
func (n *Node) Info() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Info{
		Key:     n.key,
		Size:    int64(len(n.payload)),
		IsDir:   n.payload == nil,
		ModTime: n.modTime,
	}
}

// Children returns a snapshot of the immediate children in insertion order.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Keys returns the keys of the immediate children in insertion order.
func (n *Node) Keys() []string {
	children := n.Children()
	keys := make([]string, 0, len(children))
	for _, c := range children {
		keys = append(keys, c.key)
	}
	return keys
}

// Get searches the whole subtree below n, depth first and pre-order: each
// child is compared before its own subtree is searched, and a child's subtree
// is exhausted before the next sibling is looked at. It returns the first
// node whose key matches, or nil.
func (n *Node) Get(key string) *Node {
	for _, child := range n.Children() {
		if child.key == key {
			return child
		}
		if found := child.Get(key); found != nil {
			return found
		}
	}
	return nil
}

// Add stores payload under key. When Get finds a node with that key anywhere
// in the subtree, that node's payload is replaced. Otherwise a new node is
// appended as a direct child of n.
func (n *Node) Add(key string, payload []byte) {
	if existing := n.Get(key); existing != nil {
		existing.SetPayload(payload)
		return
	}

	n.mu.Lock()
	// Another caller may have attached the key while the subtree was searched
	// without the lock held.
	if i := n.firstIndexLocked(key); i >= 0 {
		child := n.children[i]
		n.mu.Unlock()
		child.SetPayload(payload)
		return
	}
	n.children = append(n.children, newNode(key, payload))
	n.mu.Unlock()
}

// addDir appends an empty directory named key unless an immediate child with
// that key already exists. Unlike Add it never resets an existing node.
func (n *Node) addDir(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.firstIndexLocked(key) < 0 {
		n.children = append(n.children, newNode(key, nil))
	}
}

// FirstIndex returns the position of the first immediate child named key, or
// -1. Only immediate children are considered.
func (n *Node) FirstIndex(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.firstIndexLocked(key)
}

func (n *Node) firstIndexLocked(key string) int {
	for i, c := range n.children {
		if c.key == key {
			return i
		}
	}
	return -1
}

// child returns the first immediate child named key, or nil.
func (n *Node) child(key string) *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i := n.firstIndexLocked(key); i >= 0 {
		return n.children[i]
	}
	return nil
}

// Exists reports whether an immediate child named key exists.
func (n *Node) Exists(key string) bool {
	return n.FirstIndex(key) >= 0
}

// Remove drops the first immediate child named key together with its subtree.
// Nodes deeper in the subtree with the same key are left alone.
func (n *Node) Remove(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if i := n.firstIndexLocked(key); i >= 0 {
		n.children = slices.Delete(n.children, i, i+1)
	}
}
