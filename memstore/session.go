package memstore

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Chunk is one fragment uploaded into a multipart session.
type Chunk struct {
	ID     string
	Number int
	Data   []byte
}

// ChunkRef identifies a chunk by id and number. It is what UploadChunk hands
// back and what FinishMultipart expects in its descriptor list.
type ChunkRef struct {
	ID     string
	Number int
}

// Ref returns the descriptor matching c.
func (c Chunk) Ref() ChunkRef {
	return ChunkRef{ID: c.ID, Number: c.Number}
}

func newID() string {
	return uuid.NewString()
}

// CreateSession opens an empty multipart session on n and returns its id.
func (n *Node) CreateSession() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		id := newID()
		if _, taken := n.sessions[id]; !taken {
			n.sessions[id] = []Chunk{}
			return id
		}
	}
}

// HasSession reports whether id is an active session on n.
func (n *Node) HasSession(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sessions[id]
	return ok
}

// AppendChunk adds chunk to the session in arrival order. Ids and numbers are
// not checked for uniqueness.
func (n *Node) AppendChunk(id string, chunk Chunk) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	chunks, ok := n.sessions[id]
	if !ok {
		return fmt.Errorf("append chunk to %q: %w", id, ErrInvalidMultipartID)
	}
	chunk.Data = bytes.Clone(chunk.Data)
	n.sessions[id] = append(chunks, chunk)
	return nil
}

// AbortSession discards the session and everything uploaded into it.
func (n *Node) AbortSession(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sessions[id]; !ok {
		return fmt.Errorf("abort session %q: %w", id, ErrInvalidMultipartID)
	}
	delete(n.sessions, id)
	return nil
}

// FinishSession assembles the chunks named by refs into the node payload.
// Chunks whose (id, number) pair is listed are kept, ordered by number with
// ties left in upload order, and concatenated. Every session on the node is
// discarded once the payload is set.
func (n *Node) FinishSession(id string, refs []ChunkRef) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	chunks, ok := n.sessions[id]
	if !ok {
		return fmt.Errorf("finish session %q: %w", id, ErrInvalidMultipartID)
	}

	wanted := make(map[ChunkRef]struct{}, len(refs))
	for _, ref := range refs {
		wanted[ref] = struct{}{}
	}
	var matched []Chunk
	for _, c := range chunks {
		if _, ok := wanted[c.Ref()]; ok {
			matched = append(matched, c)
		}
	}
	if len(matched) != len(refs) {
		return fmt.Errorf("finish session %q: %d of %d chunks matched: %w",
			id, len(matched), len(refs), ErrInvalidMultipartChunks)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Number < matched[j].Number
	})

	size := 0
	for _, c := range matched {
		size += len(c.Data)
	}
	payload := make([]byte, 0, size)
	for _, c := range matched {
		payload = append(payload, c.Data...)
	}
	n.setPayloadLocked(payload)
	return nil
}
