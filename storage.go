package main

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randilt/geckomem/memstore"
)

var (
	ErrNoSuchBucket   = errors.New("bucket does not exist")
	ErrBucketNotEmpty = errors.New("bucket not empty")
)

// Storage is the object layer the S3 handler talks to.
type Storage interface {
	ListBuckets() ([]BucketInfo, error)
	BucketExists(bucket string) bool
	CreateBucket(bucket string) error
	DeleteBucket(bucket string) error
	ListObjects(bucket, prefix string, maxKeys int) ([]ObjectInfo, error)

	PutObject(bucket, key string, reader io.Reader) (*ObjectMetadata, error)
	GetObject(bucket, key string, rng *ObjectRange) ([]byte, *ObjectMetadata, error)
	HeadObject(bucket, key string) (*ObjectMetadata, error)
	DeleteObject(bucket, key string) error
	CopyObject(srcBucket, srcKey, dstBucket, dstKey string) (*ObjectMetadata, error)
	MoveObject(srcBucket, srcKey, dstBucket, dstKey string) (*ObjectMetadata, error)

	CreateMultipartUpload(bucket, key string) (string, error)
	UploadPart(bucket, key, uploadID string, partNumber int, reader io.Reader) (memstore.ChunkRef, error)
	CompleteMultipartUpload(bucket, key, uploadID string, parts []memstore.ChunkRef) (*ObjectMetadata, error)
	AbortMultipartUpload(bucket, key, uploadID string) error
}

type ObjectMetadata struct {
	Size         int64
	LastModified time.Time
	ETag         string
	// ContentRange is the resolved range of a ranged read, nil otherwise.
	ContentRange *memstore.Range
}

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

type BucketInfo struct {
	Name         string
	CreationDate time.Time
}

// ObjectRange is a requested byte range before the object size is known.
// A negative Start asks for the last End bytes. A negative End reads to the
// end of the object.
type ObjectRange struct {
	Start int64
	End   int64
}

// resolve clamps r to an object of size bytes.
func (r ObjectRange) resolve(size int64) (memstore.Range, error) {
	if r.Start < 0 {
		n := min(r.End, size)
		if n <= 0 {
			return memstore.Range{}, fmt.Errorf("suffix range of %d bytes: %w", size, memstore.ErrInvalidBuffer)
		}
		return memstore.Range{Start: size - n, End: size - 1}, nil
	}
	if r.Start >= size {
		return memstore.Range{}, fmt.Errorf("range start %d of %d bytes: %w", r.Start, size, memstore.ErrInvalidBuffer)
	}
	end := r.End
	if end < 0 || end >= size {
		end = size - 1
	}
	return memstore.Range{Start: r.Start, End: end}, nil
}

// MemoryStorage maps buckets onto the top-level directories of a memstore
// tree. Each bucket is resolved structurally and its objects are looked up
// only inside that directory.
type MemoryStorage struct {
	store *memstore.Storage

	mu    sync.Mutex
	etags map[string]etagEntry
}

// etagEntry is a cached ETag, valid while the object keeps the same
// modification time and size.
type etagEntry struct {
	modTime time.Time
	size    int64
	etag    string
}

func NewMemoryStorage(store *memstore.Storage) *MemoryStorage {
	return &MemoryStorage{store: store, etags: make(map[string]etagEntry)}
}

func objectPath(bucket, key string) string {
	return bucket + "/" + strings.Join(memstore.SplitKey(key), "/")
}

func computeETag(data []byte) string {
	sum := md5.Sum(data)
	return fmt.Sprintf("\"%s\"", hex.EncodeToString(sum[:]))
}

// readAll drains reader into a non-nil slice; memstore treats a nil payload
// as a directory.
func readAll(reader io.Reader) ([]byte, error) {
	if reader == nil {
		return []byte{}, nil
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// bucket returns the storage scoped to a bucket directory.
func (ms *MemoryStorage) bucket(name string) (*memstore.Storage, error) {
	if name == "" {
		return nil, ErrNoSuchBucket
	}
	sub, ok := ms.store.Dir(name)
	if !ok {
		return nil, ErrNoSuchBucket
	}
	return sub, nil
}

func (ms *MemoryStorage) cachedETag(path string, info memstore.Info) (string, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	e, ok := ms.etags[path]
	if !ok || e.size != info.Size || !e.modTime.Equal(info.ModTime) {
		return "", false
	}
	return e.etag, true
}

func (ms *MemoryStorage) storeETag(path string, info memstore.Info, etag string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.etags[path] = etagEntry{modTime: info.ModTime, size: info.Size, etag: etag}
}

func (ms *MemoryStorage) forgetETag(path string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.etags, path)
}

// forgetETags drops the entry for path and for everything below it.
func (ms *MemoryStorage) forgetETags(path string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.etags, path)
	for p := range ms.etags {
		if strings.HasPrefix(p, path+"/") {
			delete(ms.etags, p)
		}
	}
}

// etag returns the ETag of the file under key as described by info,
// downloading and hashing it only when the cache has no valid entry. info
// must be taken before the download so an entry never outlives a newer write.
func (ms *MemoryStorage) etag(sub *memstore.Storage, bucket, key string, info memstore.Info) (string, error) {
	path := objectPath(bucket, key)
	if etag, ok := ms.cachedETag(path, info); ok {
		return etag, nil
	}
	data, err := sub.Download(key, nil)
	if err != nil {
		return "", err
	}
	etag := computeETag(data)
	ms.storeETag(path, info, etag)
	return etag, nil
}

// Bucket operations
func (ms *MemoryStorage) ListBuckets() ([]BucketInfo, error) {
	var buckets []BucketInfo
	err := ms.store.Walk("", func(path string, info memstore.Info) error {
		if info.IsDir {
			buckets = append(buckets, BucketInfo{Name: path, CreationDate: info.ModTime})
		}
		return memstore.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Name < buckets[j].Name
	})
	return buckets, nil
}

func (ms *MemoryStorage) BucketExists(bucket string) bool {
	_, err := ms.bucket(bucket)
	return err == nil
}

func (ms *MemoryStorage) CreateBucket(bucket string) error {
	if _, err := ms.store.MakeDir(bucket); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (ms *MemoryStorage) DeleteBucket(bucket string) error {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return err
	}
	if len(sub.List("")) > 0 {
		return ErrBucketNotEmpty
	}
	if err := ms.store.Delete(bucket); err != nil {
		return err
	}
	ms.forgetETags(bucket)
	return nil
}

func (ms *MemoryStorage) ListObjects(bucket, prefix string, maxKeys int) ([]ObjectInfo, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	err = sub.Walk("", func(key string, info memstore.Info) error {
		if info.IsDir {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		if maxKeys > 0 && len(objects) >= maxKeys {
			return memstore.SkipDir
		}

		// objects removed mid-walk keep an empty ETag
		etag, _ := ms.etag(sub, bucket, key, info)
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size,
			LastModified: info.ModTime,
			ETag:         etag,
		})
		return nil
	})
	return objects, err
}

// Object operations
func (ms *MemoryStorage) PutObject(bucket, key string, reader io.Reader) (*ObjectMetadata, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return nil, err
	}
	data, err := readAll(reader)
	if err != nil {
		return nil, err
	}

	// A trailing slash is a folder marker.
	if strings.HasSuffix(key, "/") {
		if err := sub.Create(key); err != nil {
			return nil, err
		}
		return &ObjectMetadata{LastModified: time.Now().UTC(), ETag: computeETag(nil)}, nil
	}

	if err := sub.Upload(key, data); err != nil {
		return nil, err
	}
	ms.forgetETag(objectPath(bucket, key))
	return &ObjectMetadata{
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
		ETag:         computeETag(data),
	}, nil
}

// GetObject reads key once. A non-nil rng is resolved against the object
// size and the returned metadata carries the resolved range. The full payload
// is read only when the ETag is not cached or no range was asked for.
func (ms *MemoryStorage) GetObject(bucket, key string, rng *ObjectRange) ([]byte, *ObjectMetadata, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return nil, nil, err
	}
	info, err := sub.Stat(key)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir {
		return nil, nil, fmt.Errorf("get %q: not a file: %w", key, memstore.ErrInvalidKey)
	}

	path := objectPath(bucket, key)
	etag, cached := ms.cachedETag(path, info)
	var full []byte
	if !cached || rng == nil {
		if full, err = sub.Download(key, nil); err != nil {
			return nil, nil, err
		}
		if !cached {
			etag = computeETag(full)
			ms.storeETag(path, info, etag)
		}
	}
	metadata := &ObjectMetadata{Size: info.Size, LastModified: info.ModTime, ETag: etag}
	if rng == nil {
		metadata.Size = int64(len(full))
		return full, metadata, nil
	}

	resolved, err := rng.resolve(info.Size)
	if err != nil {
		return nil, metadata, err
	}
	metadata.ContentRange = &resolved
	if full != nil {
		if resolved.End >= int64(len(full)) {
			return nil, metadata, fmt.Errorf("get %q: %w", key, memstore.ErrInvalidBuffer)
		}
		return full[resolved.Start : resolved.End+1], metadata, nil
	}
	data, err := sub.Download(key, &resolved)
	if err != nil {
		return nil, metadata, err
	}
	return data, metadata, nil
}

func (ms *MemoryStorage) HeadObject(bucket, key string) (*ObjectMetadata, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return nil, err
	}
	info, err := sub.Stat(key)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, fmt.Errorf("head %q: not a file: %w", key, memstore.ErrInvalidKey)
	}
	etag, err := ms.etag(sub, bucket, key, info)
	if err != nil {
		return nil, err
	}
	return &ObjectMetadata{Size: info.Size, LastModified: info.ModTime, ETag: etag}, nil
}

func (ms *MemoryStorage) DeleteObject(bucket, key string) error {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return err
	}
	if err := sub.Delete(key); err != nil {
		return err
	}
	ms.forgetETags(objectPath(bucket, key))
	return nil
}

func (ms *MemoryStorage) CopyObject(srcBucket, srcKey, dstBucket, dstKey string) (*ObjectMetadata, error) {
	src, dst, err := ms.bucketPair(srcBucket, dstBucket)
	if err != nil {
		return nil, err
	}
	if err := src.CopyTo(dst, srcKey, dstKey); err != nil {
		return nil, err
	}
	ms.forgetETag(objectPath(dstBucket, dstKey))
	return ms.HeadObject(dstBucket, dstKey)
}

func (ms *MemoryStorage) MoveObject(srcBucket, srcKey, dstBucket, dstKey string) (*ObjectMetadata, error) {
	src, dst, err := ms.bucketPair(srcBucket, dstBucket)
	if err != nil {
		return nil, err
	}
	if err := src.MoveTo(dst, srcKey, dstKey); err != nil {
		return nil, err
	}
	ms.forgetETags(objectPath(srcBucket, srcKey))
	ms.forgetETag(objectPath(dstBucket, dstKey))
	return ms.HeadObject(dstBucket, dstKey)
}

func (ms *MemoryStorage) bucketPair(srcBucket, dstBucket string) (*memstore.Storage, *memstore.Storage, error) {
	dst, err := ms.bucket(dstBucket)
	if err != nil {
		return nil, nil, err
	}
	src, err := ms.bucket(srcBucket)
	if err != nil {
		// a missing source bucket means a missing source key
		return nil, nil, fmt.Errorf("copy source %q: %w", srcBucket, memstore.ErrInvalidKey)
	}
	return src, dst, nil
}

// Multipart operations
func (ms *MemoryStorage) CreateMultipartUpload(bucket, key string) (string, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return "", err
	}
	segments := memstore.SplitKey(key)
	if len(segments) > 1 {
		if err := sub.Create(strings.Join(segments[:len(segments)-1], "/")); err != nil {
			return "", err
		}
	}
	return sub.CreateMultipartID(key)
}

func (ms *MemoryStorage) UploadPart(bucket, key, uploadID string, partNumber int, reader io.Reader) (memstore.ChunkRef, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return memstore.ChunkRef{}, err
	}
	data, err := readAll(reader)
	if err != nil {
		return memstore.ChunkRef{}, err
	}
	return sub.UploadChunk(key, uploadID, partNumber, data)
}

func (ms *MemoryStorage) CompleteMultipartUpload(bucket, key, uploadID string, parts []memstore.ChunkRef) (*ObjectMetadata, error) {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return nil, err
	}
	if err := sub.FinishMultipart(key, uploadID, parts); err != nil {
		return nil, err
	}
	ms.forgetETag(objectPath(bucket, key))
	return ms.HeadObject(bucket, key)
}

func (ms *MemoryStorage) AbortMultipartUpload(bucket, key, uploadID string) error {
	sub, err := ms.bucket(bucket)
	if err != nil {
		return err
	}
	return sub.AbortMultipart(key, uploadID)
}
