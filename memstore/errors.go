package memstore

import "errors"

var (
	// ErrInvalidKey reports a path whose segment chain does not resolve.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidMultipartID reports a session id that is not active on the
	// target node.
	ErrInvalidMultipartID = errors.New("invalid multipart id")
	// ErrInvalidMultipartChunks reports a finish request whose descriptors do
	// not all match uploaded chunks.
	ErrInvalidMultipartChunks = errors.New("invalid multipart chunks")
	// ErrInvalidBuffer reports a byte range reaching past the payload.
	ErrInvalidBuffer = errors.New("invalid buffer")
)
