package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/randilt/geckomem/memstore"
)

// ═══════════════════════════════════════════════════════════════════════════════
// Bucket Operations
// ═══════════════════════════════════════════════════════════════════════════════

func TestCreateBucketIdempotent(t *testing.T) {
	s, _ := setupTestStorage(t)

	if err := s.CreateBucket("mybucket"); err != nil {
		t.Fatal(err)
	}
	// second call must not error
	if err := s.CreateBucket("mybucket"); err != nil {
		t.Fatalf("second CreateBucket should be idempotent: %v", err)
	}
	if !s.BucketExists("mybucket") {
		t.Fatal("bucket should still exist")
	}
}

func TestBucketExistsNonExistent(t *testing.T) {
	s, _ := setupTestStorage(t)

	if s.BucketExists("ghost") {
		t.Fatal("non-existent bucket should return false")
	}
	if s.BucketExists("") {
		t.Fatal("empty bucket name should return false")
	}
}

func TestBucketExistsRejectsFiles(t *testing.T) {
	s, store := setupTestStorage(t)

	store.Upload("stray.txt", []byte("not a bucket"))
	if s.BucketExists("stray.txt") {
		t.Fatal("a top-level file is not a bucket")
	}
}

func TestDeleteNonExistentBucket(t *testing.T) {
	s, _ := setupTestStorage(t)

	if err := s.DeleteBucket("nope"); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
}

func TestDeleteNonEmptyBucketFails(t *testing.T) {
	s, _ := setupTestStorage(t)

	s.CreateBucket("full")
	s.PutObject("full", "obj.txt", strings.NewReader("data"))

	if err := s.DeleteBucket("full"); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("expected ErrBucketNotEmpty, got %v", err)
	}
}

func TestDeleteBucketWithOnlyFolders(t *testing.T) {
	s, _ := setupTestStorage(t)

	s.CreateBucket("folders")
	s.PutObject("folders", "empty-dir/", nil)

	if err := s.DeleteBucket("folders"); !errors.Is(err, ErrBucketNotEmpty) {
		t.Fatalf("a folder marker keeps the bucket non-empty, got %v", err)
	}
}

func TestDeleteEmptyBucket(t *testing.T) {
	s, _ := setupTestStorage(t)

	s.CreateBucket("empty")
	if err := s.DeleteBucket("empty"); err != nil {
		t.Fatalf("DeleteBucket: %v", err)
	}
	if s.BucketExists("empty") {
		t.Fatal("bucket should not exist after deletion")
	}
}

func TestListBuckets(t *testing.T) {
	s, _ := setupTestStorage(t)

	s.CreateBucket("charlie")
	s.CreateBucket("alpha")
	s.CreateBucket("bravo")
	s.PutObject("alpha", "nested/obj", strings.NewReader("x"))

	buckets, err := s.ListBuckets()
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	names := []string{buckets[0].Name, buckets[1].Name, buckets[2].Name}
	if strings.Join(names, ",") != "alpha,bravo,charlie" {
		t.Errorf("bucket order: %v", names)
	}
	if buckets[0].CreationDate.IsZero() {
		t.Error("creation date should be set")
	}
}

func TestListBucketsEmpty(t *testing.T) {
	s, _ := setupTestStorage(t)

	buckets, err := s.ListBuckets()
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 0 {
		t.Errorf("expected no buckets, got %d", len(buckets))
	}
}

func TestListBucketsIgnoresFiles(t *testing.T) {
	s, store := setupTestStorage(t)

	s.CreateBucket("real")
	store.Upload("stray.txt", []byte("x"))

	buckets, _ := s.ListBuckets()
	if len(buckets) != 1 || buckets[0].Name != "real" {
		t.Errorf("buckets: %+v", buckets)
	}
}

func TestCreateBucketRejectsSlash(t *testing.T) {
	s, _ := setupTestStorage(t)

	if err := s.CreateBucket("a/b"); err == nil {
		t.Fatal("bucket names must be a single segment")
	}
	if err := s.CreateBucket(""); err == nil {
		t.Fatal("empty bucket name should be rejected")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Object Operations
// ═══════════════════════════════════════════════════════════════════════════════

func TestPutGetRoundTrip(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	meta, err := s.PutObject("b", "hello.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 11 {
		t.Errorf("put size: %d", meta.Size)
	}

	data, getMeta, err := s.GetObject("b", "hello.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Errorf("data: %q", data)
	}
	if getMeta.Size != 11 || getMeta.ETag != meta.ETag {
		t.Errorf("metadata: %+v", getMeta)
	}
	if getMeta.LastModified.IsZero() {
		t.Error("last modified should be set")
	}
}

func TestGetObjectRange(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "digits", strings.NewReader("0123456789"))

	tests := []struct {
		name       string
		rng        ObjectRange
		want       string
		start, end int64
	}{
		{"closed", ObjectRange{Start: 2, End: 4}, "234", 2, 4},
		{"end past size is clamped", ObjectRange{Start: 5, End: 100}, "56789", 5, 9},
		{"open ended", ObjectRange{Start: 7, End: -1}, "789", 7, 9},
		{"suffix", ObjectRange{Start: -1, End: 3}, "789", 7, 9},
		{"suffix longer than object", ObjectRange{Start: -1, End: 20}, "0123456789", 0, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := tt.rng
			data, meta, err := s.GetObject("b", "digits", &rng)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("range data: %q, want %q", data, tt.want)
			}
			if meta.Size != 10 {
				t.Errorf("metadata should describe the whole object, size %d", meta.Size)
			}
			if meta.ContentRange == nil || meta.ContentRange.Start != tt.start || meta.ContentRange.End != tt.end {
				t.Errorf("content range %+v, want %d-%d", meta.ContentRange, tt.start, tt.end)
			}
		})
	}

	_, _, err := s.GetObject("b", "digits", &ObjectRange{Start: 10, End: -1})
	if !errors.Is(err, memstore.ErrInvalidBuffer) {
		t.Errorf("start at size: expected ErrInvalidBuffer, got %v", err)
	}

	s.PutObject("b", "empty", strings.NewReader(""))
	_, _, err = s.GetObject("b", "empty", &ObjectRange{Start: -1, End: 5})
	if !errors.Is(err, memstore.ErrInvalidBuffer) {
		t.Errorf("suffix of empty object: expected ErrInvalidBuffer, got %v", err)
	}
}

func TestGetObjectRangeWithoutCachedETag(t *testing.T) {
	s, store := setupTestStorage(t)
	s.CreateBucket("b")
	// written behind the adapter, so nothing is cached yet
	store.Upload("b/raw", []byte("abcdef"))

	data, meta, err := s.GetObject("b", "raw", &ObjectRange{Start: 1, End: 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bc" {
		t.Errorf("range data: %q", data)
	}
	if meta.ETag != computeETag([]byte("abcdef")) {
		t.Errorf("etag should hash the whole object: %s", meta.ETag)
	}

	data, _, err = s.GetObject("b", "raw", &ObjectRange{Start: 3, End: 4})
	if err != nil || string(data) != "de" {
		t.Errorf("cached range read: %q %v", data, err)
	}
}

func TestPutObjectOverwrite(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	s.PutObject("b", "file.txt", strings.NewReader("first"))
	s.PutObject("b", "file.txt", strings.NewReader("second version"))

	data, _, _ := s.GetObject("b", "file.txt", nil)
	if string(data) != "second version" {
		t.Errorf("overwrite failed: %q", data)
	}
}

func TestPutObjectNestedKey(t *testing.T) {
	s, store := setupTestStorage(t)
	s.CreateBucket("b")

	if _, err := s.PutObject("b", "a/b/c/d.txt", strings.NewReader("deep")); err != nil {
		t.Fatal(err)
	}
	data, _, err := s.GetObject("b", "a/b/c/d.txt", nil)
	if err != nil || string(data) != "deep" {
		t.Fatalf("nested get: %q, %v", data, err)
	}
	info, err := store.Stat("b/a/b")
	if err != nil || !info.IsDir {
		t.Errorf("intermediate path should be a directory: %+v, %v", info, err)
	}
}

func TestPutObjectToNonExistentBucket(t *testing.T) {
	s, _ := setupTestStorage(t)

	if _, err := s.PutObject("ghost", "file.txt", strings.NewReader("x")); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
	if s.BucketExists("ghost") {
		t.Fatal("a failed put must not create the bucket")
	}
}

func TestPutObjectEmptyBody(t *testing.T) {
	s, store := setupTestStorage(t)
	s.CreateBucket("b")

	meta, err := s.PutObject("b", "empty.txt", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 0 {
		t.Errorf("size: %d", meta.Size)
	}
	info, _ := store.Stat("b/empty.txt")
	if info.IsDir {
		t.Fatal("an empty object must be stored as a file")
	}
	data, _, err := s.GetObject("b", "empty.txt", nil)
	if err != nil || len(data) != 0 {
		t.Errorf("get empty: %q, %v", data, err)
	}
}

func TestPutObjectFolderMarker(t *testing.T) {
	s, store := setupTestStorage(t)
	s.CreateBucket("b")

	if _, err := s.PutObject("b", "folder/", nil); err != nil {
		t.Fatal(err)
	}
	info, err := store.Stat("b/folder")
	if err != nil || !info.IsDir {
		t.Fatalf("folder marker: %+v, %v", info, err)
	}
	objs, _ := s.ListObjects("b", "", 0)
	if len(objs) != 0 {
		t.Errorf("folders are not listed as objects: %+v", objs)
	}
}

func TestGetObjectNotFound(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	if _, _, err := s.GetObject("b", "nope.txt", nil); !errors.Is(err, memstore.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestGetObjectDirectory(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "dir/file", strings.NewReader("x"))

	if _, _, err := s.GetObject("b", "dir", nil); !errors.Is(err, memstore.ErrInvalidKey) {
		t.Fatalf("a directory is not an object, got %v", err)
	}
}

func TestHeadObjectMatch(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	putMeta, _ := s.PutObject("b", "h.txt", strings.NewReader("head"))
	headMeta, err := s.HeadObject("b", "h.txt")
	if err != nil {
		t.Fatal(err)
	}
	if headMeta.Size != 4 || headMeta.ETag != putMeta.ETag {
		t.Errorf("head metadata: %+v", headMeta)
	}
}

func TestDeleteObject(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "del.txt", strings.NewReader("x"))

	if err := s.DeleteObject("b", "del.txt"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.GetObject("b", "del.txt", nil); err == nil {
		t.Fatal("object should be gone")
	}
}

func TestDeleteNonExistentObjectSilent(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	if err := s.DeleteObject("b", "never.txt"); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
	if err := s.DeleteObject("b", "no/parent.txt"); !errors.Is(err, memstore.ErrInvalidKey) {
		t.Fatalf("missing parent should report ErrInvalidKey, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Copy and Move
// ═══════════════════════════════════════════════════════════════════════════════

func TestCopyObjectCrossBucket(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("src")
	s.CreateBucket("dst")
	s.PutObject("src", "orig.txt", strings.NewReader("cross"))

	meta, err := s.CopyObject("src", "orig.txt", "dst", "copy/of/orig.txt")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 5 {
		t.Errorf("copy size: %d", meta.Size)
	}
	data, _, _ := s.GetObject("dst", "copy/of/orig.txt", nil)
	if string(data) != "cross" {
		t.Errorf("copied data: %q", data)
	}
	if _, _, err := s.GetObject("src", "orig.txt", nil); err != nil {
		t.Error("copy must keep the source")
	}
}

func TestCopyObjectSourceNotFound(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	if _, err := s.CopyObject("b", "ghost", "b", "dst"); !errors.Is(err, memstore.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestCopyObjectMissingDestinationBucket(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "file", strings.NewReader("x"))

	if _, err := s.CopyObject("b", "file", "ghost", "file"); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
}

func TestMoveObject(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "from.txt", strings.NewReader("moving"))

	if _, err := s.MoveObject("b", "from.txt", "b", "to.txt"); err != nil {
		t.Fatal(err)
	}
	data, _, _ := s.GetObject("b", "to.txt", nil)
	if string(data) != "moving" {
		t.Errorf("moved data: %q", data)
	}
	if _, _, err := s.GetObject("b", "from.txt", nil); err == nil {
		t.Error("source should be gone after a move")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ListObjects
// ═══════════════════════════════════════════════════════════════════════════════

func TestListObjectsEmpty(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	objs, err := s.ListObjects("b", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 0 {
		t.Errorf("expected 0 objects, got %d", len(objs))
	}
}

func TestListObjectsWithPrefix(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "logs/one.log", strings.NewReader("1"))
	s.PutObject("b", "logs/two.log", strings.NewReader("2"))
	s.PutObject("b", "data.csv", strings.NewReader("3"))

	objs, _ := s.ListObjects("b", "logs/", 0)
	if len(objs) != 2 {
		t.Errorf("expected 2 objects with prefix, got %d", len(objs))
	}
	for _, o := range objs {
		if !strings.HasPrefix(o.Key, "logs/") {
			t.Errorf("unexpected key %q", o.Key)
		}
	}
}

func TestListObjectsMaxKeys(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	for i := 0; i < 10; i++ {
		s.PutObject("b", fmt.Sprintf("obj%02d", i), strings.NewReader("x"))
	}

	objs, _ := s.ListObjects("b", "", 3)
	if len(objs) != 3 {
		t.Errorf("expected 3 objects, got %d", len(objs))
	}
	objs, _ = s.ListObjects("b", "", 0)
	if len(objs) != 10 {
		t.Errorf("max-keys 0 should list everything, got %d", len(objs))
	}
}

func TestListObjectsNonExistentBucket(t *testing.T) {
	s, _ := setupTestStorage(t)

	if _, err := s.ListObjects("ghost", "", 0); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
}

func TestListObjectsSkipsPendingUploads(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "done.txt", strings.NewReader("x"))
	if _, err := s.CreateMultipartUpload("b", "pending.bin"); err != nil {
		t.Fatal(err)
	}

	objs, _ := s.ListObjects("b", "", 0)
	if len(objs) != 1 || objs[0].Key != "done.txt" {
		t.Errorf("objects: %+v", objs)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Multipart
// ═══════════════════════════════════════════════════════════════════════════════

func TestMultipartUploadRoundTrip(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	id, err := s.CreateMultipartUpload("b", "parts/assembled.bin")
	if err != nil {
		t.Fatal(err)
	}

	var refs []memstore.ChunkRef
	for i, piece := range []string{"foo", "bar", "baz"} {
		ref, err := s.UploadPart("b", "parts/assembled.bin", id, i+1, strings.NewReader(piece))
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, ref)
	}

	meta, err := s.CompleteMultipartUpload("b", "parts/assembled.bin", id, refs)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 9 {
		t.Errorf("assembled size: %d", meta.Size)
	}
	data, _, _ := s.GetObject("b", "parts/assembled.bin", nil)
	if string(data) != "foobarbaz" {
		t.Errorf("assembled data: %q", data)
	}
}

func TestMultipartUploadEmptyPart(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	id, _ := s.CreateMultipartUpload("b", "empty.bin")
	ref, err := s.UploadPart("b", "empty.bin", id, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CompleteMultipartUpload("b", "empty.bin", id, []memstore.ChunkRef{ref}); err != nil {
		t.Fatal(err)
	}
	data, _, err := s.GetObject("b", "empty.bin", nil)
	if err != nil || len(data) != 0 {
		t.Errorf("empty multipart object: %q, %v", data, err)
	}
}

func TestMultipartAbort(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	id, _ := s.CreateMultipartUpload("b", "gone.bin")
	ref, _ := s.UploadPart("b", "gone.bin", id, 1, strings.NewReader("x"))

	if err := s.AbortMultipartUpload("b", "gone.bin", id); err != nil {
		t.Fatal(err)
	}
	_, err := s.CompleteMultipartUpload("b", "gone.bin", id, []memstore.ChunkRef{ref})
	if !errors.Is(err, memstore.ErrInvalidMultipartID) {
		t.Fatalf("expected ErrInvalidMultipartID, got %v", err)
	}
}

func TestMultipartMissingBucket(t *testing.T) {
	s, _ := setupTestStorage(t)

	if _, err := s.CreateMultipartUpload("ghost", "file"); !errors.Is(err, ErrNoSuchBucket) {
		t.Fatalf("expected ErrNoSuchBucket, got %v", err)
	}
	if _, err := s.UploadPart("ghost", "file", "id", 1, strings.NewReader("x")); !errors.Is(err, ErrNoSuchBucket) {
		t.Errorf("upload part: expected ErrNoSuchBucket, got %v", err)
	}
	if _, err := s.CompleteMultipartUpload("ghost", "file", "id", nil); !errors.Is(err, ErrNoSuchBucket) {
		t.Errorf("complete: expected ErrNoSuchBucket, got %v", err)
	}
	if err := s.AbortMultipartUpload("ghost", "file", "id"); !errors.Is(err, ErrNoSuchBucket) {
		t.Errorf("abort: expected ErrNoSuchBucket, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ETag Correctness
// ═══════════════════════════════════════════════════════════════════════════════

func TestETagIsQuotedMD5(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	meta, _ := s.PutObject("b", "etag.txt", strings.NewReader("hello"))

	// md5("hello")
	if meta.ETag != "\"5d41402abc4b2a76b9719d911017c592\"" {
		t.Errorf("ETag: %q", meta.ETag)
	}
}

func TestETagConsistentAcrossOperations(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	putMeta, _ := s.PutObject("b", "e.txt", strings.NewReader("consistent"))
	_, getMeta, _ := s.GetObject("b", "e.txt", nil)
	headMeta, _ := s.HeadObject("b", "e.txt")
	objs, _ := s.ListObjects("b", "", 0)

	if getMeta.ETag != putMeta.ETag {
		t.Error("GetObject ETag mismatch")
	}
	if headMeta.ETag != putMeta.ETag {
		t.Error("HeadObject ETag mismatch")
	}
	if len(objs) == 0 || objs[0].ETag != putMeta.ETag {
		t.Error("ListObjects ETag mismatch")
	}
}

func TestETagDiffersForDifferentContent(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	m1, _ := s.PutObject("b", "a.txt", strings.NewReader("aaa"))
	m2, _ := s.PutObject("b", "b.txt", strings.NewReader("bbb"))

	if m1.ETag == m2.ETag {
		t.Error("different content should produce different ETags")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Concurrent Access
// ═══════════════════════════════════════════════════════════════════════════════

func TestConcurrentPutsSameKey(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(n)}, 1024)
			s.PutObject("b", "race.txt", bytes.NewReader(data))
		}(i)
	}
	wg.Wait()

	data, meta, err := s.GetObject("b", "race.txt", nil)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != meta.Size || meta.Size != 1024 {
		t.Errorf("size mismatch after concurrent writes: body=%d meta=%d", len(data), meta.Size)
	}
	if names := s.store.List("b"); len(names) != 1 {
		t.Errorf("concurrent puts of one key must leave one node, got %v", names)
	}
}

func TestConcurrentPutsDifferentKeys(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")

	n := 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s.PutObject("b", fmt.Sprintf("file%03d.txt", idx), strings.NewReader("concurrent"))
		}(i)
	}
	wg.Wait()

	objs, _ := s.ListObjects("b", "", 0)
	if len(objs) != n {
		t.Errorf("expected %d objects, got %d", n, len(objs))
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "rw.txt", strings.NewReader("aaaa"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.PutObject("b", "rw.txt", strings.NewReader("bbbb"))
		}()
		go func() {
			defer wg.Done()
			data, _, err := s.GetObject("b", "rw.txt", nil)
			if err != nil {
				t.Errorf("read during writes: %v", err)
				return
			}
			if string(data) != "aaaa" && string(data) != "bbbb" {
				t.Errorf("torn read: %q", data)
			}
		}()
	}
	wg.Wait()
}

// ═══════════════════════════════════════════════════════════════════════════════
// Benchmarks
// ═══════════════════════════════════════════════════════════════════════════════

func BenchmarkPutObject(b *testing.B) {
	storage := NewMemoryStorage(memstore.New())
	storage.CreateBucket("benchmark")

	content := bytes.Repeat([]byte("a"), 1024) // 1KB

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test/%c/file-%d.txt", rune(i%26+97), i%100)
		storage.PutObject("benchmark", key, bytes.NewReader(content))
	}
}

func BenchmarkGetObject(b *testing.B) {
	storage := NewMemoryStorage(memstore.New())
	storage.CreateBucket("benchmark")

	content := bytes.Repeat([]byte("a"), 1024) // 1KB
	storage.PutObject("benchmark", "test.txt", bytes.NewReader(content))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		storage.GetObject("benchmark", "test.txt", nil)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Helpers
// ═══════════════════════════════════════════════════════════════════════════════

func setupTestStorage(t *testing.T) (*MemoryStorage, *memstore.Storage) {
	t.Helper()
	store := memstore.New()
	return NewMemoryStorage(store), store
}

func TestBucketsIgnoreSameNamedObjects(t *testing.T) {
	s, _ := setupTestStorage(t)

	if err := s.CreateBucket("alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutObject("alpha", "beta", strings.NewReader("object")); err != nil {
		t.Fatal(err)
	}
	if s.BucketExists("beta") {
		t.Fatal("an object named beta is not a bucket")
	}

	if err := s.CreateBucket("beta"); err != nil {
		t.Fatal(err)
	}
	if !s.BucketExists("beta") {
		t.Fatal("bucket beta should exist next to object alpha/beta")
	}
	if _, err := s.PutObject("beta", "k", strings.NewReader("v")); err != nil {
		t.Fatalf("put into bucket beta: %v", err)
	}

	data, _, err := s.GetObject("alpha", "beta", nil)
	if err != nil || string(data) != "object" {
		t.Errorf("alpha/beta: %q %v", data, err)
	}
	data, _, err = s.GetObject("beta", "k", nil)
	if err != nil || string(data) != "v" {
		t.Errorf("beta/k: %q %v", data, err)
	}

	buckets, _ := s.ListBuckets()
	if len(buckets) != 2 {
		t.Errorf("expected two buckets, got %+v", buckets)
	}
}

func TestObjectKeysDoNotCrossBuckets(t *testing.T) {
	s, _ := setupTestStorage(t)
	s.CreateBucket("one")
	s.CreateBucket("two")
	s.PutObject("one", "shared.txt", strings.NewReader("from one"))

	if _, _, err := s.GetObject("two", "shared.txt", nil); !errors.Is(err, memstore.ErrInvalidKey) {
		t.Fatalf("a key in one bucket must not be found in another, got %v", err)
	}
	if _, err := s.CopyObject("one", "shared.txt", "two", "copy.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MoveObject("two", "copy.txt", "one", "back.txt"); err != nil {
		t.Fatal(err)
	}
	if objs, _ := s.ListObjects("two", "", 0); len(objs) != 0 {
		t.Errorf("bucket two should be empty after the move: %+v", objs)
	}
	data, _, err := s.GetObject("one", "back.txt", nil)
	if err != nil || string(data) != "from one" {
		t.Errorf("moved object: %q %v", data, err)
	}
}

func TestETagCache(t *testing.T) {
	s, store := setupTestStorage(t)
	s.CreateBucket("b")
	s.PutObject("b", "dir/obj", strings.NewReader("first"))

	objs, err := s.ListObjects("b", "", 0)
	if err != nil || len(objs) != 1 {
		t.Fatalf("list: %+v %v", objs, err)
	}
	if objs[0].ETag != computeETag([]byte("first")) {
		t.Errorf("listed etag: %s", objs[0].ETag)
	}

	s.mu.Lock()
	entry, ok := s.etags["b/dir/obj"]
	s.mu.Unlock()
	if !ok || entry.etag != objs[0].ETag {
		t.Fatalf("listing should cache the etag, got %+v %v", entry, ok)
	}

	// an overwrite behind the adapter changes size and modtime
	store.Upload("b/dir/obj", []byte("second!"))
	meta, err := s.HeadObject("b", "dir/obj")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ETag != computeETag([]byte("second!")) {
		t.Errorf("stale etag after overwrite: %s", meta.ETag)
	}

	s.DeleteObject("b", "dir")
	s.mu.Lock()
	_, ok = s.etags["b/dir/obj"]
	s.mu.Unlock()
	if ok {
		t.Error("deleting a directory should drop cached etags below it")
	}
}
