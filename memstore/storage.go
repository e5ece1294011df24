// Package memstore is a volatile, hierarchical byte store. Keys are
// "/"-delimited paths; every path segment is a node that is either a
// directory or a file holding a payload. Files can also be assembled from
// multipart uploads.
//
// Each node serializes its own operations. Operations that span several
// nodes, such as Upload, Copy or Move, are a sequence of independent node
// operations and are not transactional.
package memstore

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Range is an inclusive byte range within a payload.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by r.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Storage exposes path based operations over a Tree.
type Storage struct {
	tree *Tree
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{tree: NewTree()}
}

// AvailableSpace reports the free capacity. Memory is not capped.
func (s *Storage) AvailableSpace() uint64 {
	return math.MaxUint64
}

// Dir returns a Storage rooted at the directory name directly below the root.
// Only immediate children of the root are considered, so a deeper node with
// the same key never matches. Keys passed to the returned Storage resolve
// inside that directory alone.
func (s *Storage) Dir(name string) (*Storage, bool) {
	node := s.tree.root.child(name)
	if node == nil || !node.IsDir() {
		return nil, false
	}
	return &Storage{tree: &Tree{root: node}}, true
}

// MakeDir creates the directory name directly below the root unless it
// already exists and returns it as with Dir. A file of that name is an error.
func (s *Storage) MakeDir(name string) (*Storage, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("make dir %q: %w", name, ErrInvalidKey)
	}
	s.tree.root.addDir(name)
	sub, ok := s.Dir(name)
	if !ok {
		return nil, fmt.Errorf("make dir %q: not a directory: %w", name, ErrInvalidKey)
	}
	return sub, nil
}

// parent resolves everything but the last segment of key with Tree.Find.
func (s *Storage) parent(key string) (*Node, string, error) {
	segments, last, ok := splitParent(key)
	if !ok {
		return nil, "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	node := s.tree.Find(segments)
	if node == nil {
		return nil, "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return node, last, nil
}

// target resolves the parent of key and then the last segment below it.
func (s *Storage) target(key string) (*Node, error) {
	parent, last, err := s.parent(key)
	if err != nil {
		return nil, err
	}
	node := parent.Get(last)
	if node == nil {
		return nil, fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return node, nil
}

// Create makes sure a directory exists for every segment of key.
func (s *Storage) Create(key string) error {
	if s.tree.Create(SplitKey(key)) == nil {
		return fmt.Errorf("create %q: %w", key, ErrInvalidKey)
	}
	return nil
}

// Upload stores data under key, creating missing parent directories. A nil
// data slice stores a directory; use an empty non-nil slice for an empty
// file.
func (s *Storage) Upload(key string, data []byte) error {
	segments, last, ok := splitParent(key)
	if !ok {
		return fmt.Errorf("upload %q: %w", key, ErrInvalidKey)
	}
	parent := s.tree.Create(segments)
	if parent == nil {
		return fmt.Errorf("upload %q: %w", key, ErrInvalidKey)
	}
	parent.Add(last, data)
	return nil
}

// Download returns a copy of the payload stored under key, or the bytes
// covered by rng when it is not nil.
func (s *Storage) Download(key string, rng *Range) ([]byte, error) {
	node, err := s.target(key)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	payload := node.Payload()
	if payload == nil {
		return nil, fmt.Errorf("download %q: not a file: %w", key, ErrInvalidKey)
	}
	if rng == nil {
		return payload, nil
	}
	if rng.Start < 0 || rng.End < rng.Start || rng.End >= int64(len(payload)) {
		return nil, fmt.Errorf("download %q: range %d-%d of %d bytes: %w",
			key, rng.Start, rng.End, len(payload), ErrInvalidBuffer)
	}
	return payload[rng.Start : rng.End+1], nil
}

// Exists reports whether the last segment of key is an immediate child of
// the resolved parent.
func (s *Storage) Exists(key string) bool {
	parent, last, err := s.parent(key)
	if err != nil {
		return false
	}
	return parent.Exists(last)
}

// Size returns the payload size under key. Paths that do not resolve and
// directories both report 0.
func (s *Storage) Size(key string) int64 {
	node, err := s.target(key)
	if err != nil {
		return 0
	}
	return int64(node.Size())
}

// Stat describes the node under key.
func (s *Storage) Stat(key string) (Info, error) {
	node, err := s.target(key)
	if err != nil {
		return Info{}, fmt.Errorf("stat: %w", err)
	}
	return node.Info(), nil
}

// List returns the names of the immediate children of key, or of the root
// when key is empty. A key that does not resolve lists nothing.
func (s *Storage) List(key string) []string {
	node := s.tree.Find(SplitKey(key))
	if node == nil {
		return []string{}
	}
	return node.Keys()
}

// Walk calls fn for every node below key, following the actual tree structure
// in insertion order. Paths passed to fn are relative to key.
func (s *Storage) Walk(key string, fn WalkFunc) error {
	node := s.tree.Find(SplitKey(key))
	if node == nil {
		return fmt.Errorf("walk %q: %w", key, ErrInvalidKey)
	}
	return walk(node, "", fn)
}

// Copy stores the payload of src under dst. Only the payload is copied, so
// copying a directory creates an empty directory at dst.
func (s *Storage) Copy(src, dst string) error {
	return s.CopyTo(s, src, dst)
}

// CopyTo is Copy with dst resolved in another Storage, which may share a
// tree with s.
func (s *Storage) CopyTo(to *Storage, src, dst string) error {
	srcSegments := SplitKey(src)
	if len(srcSegments) == 0 {
		return fmt.Errorf("copy %q: %w", src, ErrInvalidKey)
	}
	source := s.tree.Find(srcSegments)
	if source == nil {
		return fmt.Errorf("copy %q: %w", src, ErrInvalidKey)
	}
	if err := to.Upload(dst, source.Payload()); err != nil {
		return fmt.Errorf("copy to: %w", err)
	}
	return nil
}

// Move copies src to dst and then deletes src. If the delete fails both
// keys remain.
func (s *Storage) Move(src, dst string) error {
	return s.MoveTo(s, src, dst)
}

// MoveTo is Move with dst resolved in another Storage.
func (s *Storage) MoveTo(to *Storage, src, dst string) error {
	if err := s.CopyTo(to, src, dst); err != nil {
		return err
	}
	return s.Delete(src)
}

// Delete removes the immediate child named by the last segment of key from
// its resolved parent. Removing a missing child is not an error.
func (s *Storage) Delete(key string) error {
	parent, last, err := s.parent(key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	parent.Remove(last)
	return nil
}

// CreateMultipartID turns key into a directory and opens a multipart session
// on it. The parent path must already exist.
func (s *Storage) CreateMultipartID(key string) (string, error) {
	parent, last, err := s.parent(key)
	if err != nil {
		return "", fmt.Errorf("create multipart: %w", err)
	}
	parent.Add(last, nil)
	node := parent.Get(last)
	if node == nil {
		return "", fmt.Errorf("create multipart %q: %w", key, ErrInvalidKey)
	}
	return node.CreateSession(), nil
}

// UploadChunk stores data as chunk number of the session id on key and
// returns the generated chunk reference.
func (s *Storage) UploadChunk(key, id string, number int, data []byte) (ChunkRef, error) {
	node, err := s.target(key)
	if err != nil {
		return ChunkRef{}, fmt.Errorf("upload chunk: %w", err)
	}
	chunk := Chunk{ID: newID(), Number: number, Data: data}
	if err := node.AppendChunk(id, chunk); err != nil {
		return ChunkRef{}, err
	}
	return chunk.Ref(), nil
}

// AbortMultipart discards the session id on key.
func (s *Storage) AbortMultipart(key, id string) error {
	node, err := s.target(key)
	if err != nil {
		return fmt.Errorf("abort multipart: %w", err)
	}
	return node.AbortSession(id)
}

// FinishMultipart assembles the chunks listed in refs into the payload of
// key.
func (s *Storage) FinishMultipart(key, id string, refs []ChunkRef) error {
	node, err := s.target(key)
	if err != nil {
		return fmt.Errorf("finish multipart: %w", err)
	}
	return node.FinishSession(id, refs)
}

// Usage counts the files and directories below the root and the bytes held
// by file payloads.
func (s *Storage) Usage() (files, dirs int, bytes int64) {
	_ = walk(s.tree.root, "", func(_ string, info Info) error {
		if info.IsDir {
			dirs++
		} else {
			files++
			bytes += info.Size
		}
		return nil
	})
	return files, dirs, bytes
}

// Dump writes the tree as indented keys, one node per line. It is meant for
// debugging and is not part of the storage contract.
func (s *Storage) Dump(w io.Writer) error {
	if _, err := fmt.Fprintln(w, s.tree.root.key); err != nil {
		return err
	}
	return walk(s.tree.root, "", func(path string, info Info) error {
		depth := strings.Count(path, "/") + 1
		_, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("    ", depth), info.Key)
		return err
	})
}
