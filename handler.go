package main

import (
	"encoding/xml"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/randilt/geckomem/memstore"
)

// moveHeader turns a copy request into a move of the source object.
const moveHeader = "X-Geckomem-Move"

type S3Handler struct {
	storage Storage
	logger  *slog.Logger
	metrics *Metrics
}

func NewS3Handler(storage Storage, logger *slog.Logger, metrics *Metrics) *S3Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Handler{
		storage: storage,
		logger:  logger,
		metrics: metrics,
	}
}

func (h *S3Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Health check endpoint
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	// Parse bucket and key from path
	bucket, key := h.parsePath(r.URL.Path)

	if bucket == "" {
		if r.Method == http.MethodGet {
			h.handleListBuckets(w, r)
			return
		}
		h.writeError(w, "NotImplemented", "Service operation not supported", http.StatusNotImplemented)
		return
	}

	if key == "" {
		h.handleBucketOperation(w, r, bucket)
	} else {
		h.handleObjectOperation(w, r, bucket, key)
	}
}

func (h *S3Handler) handleBucketOperation(w http.ResponseWriter, r *http.Request, bucket string) {
	switch r.Method {
	case http.MethodPut:
		h.handleCreateBucket(w, r, bucket)
	case http.MethodDelete:
		h.handleDeleteBucket(w, r, bucket)
	case http.MethodHead:
		h.handleHeadBucket(w, r, bucket)
	case http.MethodGet:
		if r.URL.Query().Get("list-type") == "2" {
			h.handleListObjectsV2(w, r, bucket)
		} else {
			h.writeError(w, "NotImplemented", "ListObjectsV1 not supported", http.StatusNotImplemented)
		}
	default:
		h.writeError(w, "MethodNotAllowed", "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *S3Handler) handleObjectOperation(w http.ResponseWriter, r *http.Request, bucket, key string) {
	query := r.URL.Query()
	switch r.Method {
	case http.MethodPut:
		switch {
		case query.Has("uploadId"):
			h.handleUploadPart(w, r, bucket, key)
		case r.Header.Get("X-Amz-Copy-Source") != "":
			h.handleCopyObject(w, r, bucket, key)
		default:
			h.handlePutObject(w, r, bucket, key)
		}
	case http.MethodPost:
		switch {
		case query.Has("uploads"):
			h.handleCreateMultipartUpload(w, r, bucket, key)
		case query.Has("uploadId"):
			h.handleCompleteMultipartUpload(w, r, bucket, key)
		default:
			h.writeError(w, "MethodNotAllowed", "Method not allowed", http.StatusMethodNotAllowed)
		}
	case http.MethodGet:
		h.handleGetObject(w, r, bucket, key)
	case http.MethodHead:
		h.handleHeadObject(w, r, bucket, key)
	case http.MethodDelete:
		if query.Has("uploadId") {
			h.handleAbortMultipartUpload(w, r, bucket, key)
		} else {
			h.handleDeleteObject(w, r, bucket, key)
		}
	default:
		h.writeError(w, "MethodNotAllowed", "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Service handlers
func (h *S3Handler) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.storage.ListBuckets()
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	response := ListAllMyBucketsResult{
		Xmlns: "http://s3.amazonaws.com/doc/2006-03-01/",
		Owner: Owner{ID: "geckomem", DisplayName: "geckomem"},
	}
	for _, b := range buckets {
		response.Buckets = append(response.Buckets, Bucket{
			Name:         b.Name,
			CreationDate: b.CreationDate.UTC().Format(time.RFC3339),
		})
	}
	h.writeXML(w, http.StatusOK, response)
}

// Bucket handlers
func (h *S3Handler) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if !isValidBucketName(bucket) {
		h.writeError(w, "InvalidBucketName", "The specified bucket is not valid", http.StatusBadRequest)
		return
	}

	if !h.storage.BucketExists(bucket) {
		if err := h.storage.CreateBucket(bucket); err != nil {
			h.writeStorageError(w, r, err)
			return
		}
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (h *S3Handler) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if err := h.storage.DeleteBucket(bucket); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *S3Handler) handleHeadBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	if !h.storage.BucketExists(bucket) {
		h.writeError(w, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *S3Handler) handleListObjectsV2(w http.ResponseWriter, r *http.Request, bucket string) {
	query := r.URL.Query()
	q := listQuery{
		Delimiter:  query.Get("delimiter"),
		Prefix:     query.Get("prefix"),
		StartAfter: query.Get("start-after"),
		MaxKeys:    1000,
	}
	if mk := query.Get("max-keys"); mk != "" {
		parsed, err := strconv.Atoi(mk)
		if err != nil || parsed < 0 {
			h.writeError(w, "InvalidArgument", "max-keys must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.MaxKeys = min(parsed, 1000)
	}
	token := query.Get("continuation-token")
	if token != "" {
		key, ok := decodeToken(token)
		if !ok {
			h.writeError(w, "InvalidArgument", "The continuation token provided is incorrect", http.StatusBadRequest)
			return
		}
		q.StartAfter = key
	}

	objects, err := h.storage.ListObjects(bucket, q.Prefix, 0)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	page := paginate(objects, q)

	response := ListBucketResult{
		Xmlns:                 "http://s3.amazonaws.com/doc/2006-03-01/",
		Name:                  bucket,
		Prefix:                q.Prefix,
		Delimiter:             q.Delimiter,
		MaxKeys:               q.MaxKeys,
		IsTruncated:           page.IsTruncated,
		KeyCount:              page.len(),
		StartAfter:            query.Get("start-after"),
		ContinuationToken:     token,
		NextContinuationToken: encodeToken(page.NextKey),
	}
	for _, obj := range page.Objects {
		response.Contents = append(response.Contents, Object{
			Key:          obj.Key,
			LastModified: obj.LastModified.UTC().Format(time.RFC3339),
			ETag:         obj.ETag,
			Size:         obj.Size,
			StorageClass: "STANDARD",
		})
	}
	for _, prefix := range page.CommonPrefixes {
		response.CommonPrefixes = append(response.CommonPrefixes, CommonPrefix{Prefix: prefix})
	}

	h.writeXML(w, http.StatusOK, response)
}

// Object handlers
func (h *S3Handler) handlePutObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	metadata, err := h.storage.PutObject(bucket, key, r.Body)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	w.Header().Set("ETag", metadata.ETag)
	w.WriteHeader(http.StatusOK)
}

func (h *S3Handler) handleGetObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	var rng *ObjectRange
	if header := r.Header.Get("Range"); header != "" {
		var err error
		rng, err = parseRange(header)
		if err != nil {
			h.writeError(w, "InvalidRange", err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
	}

	data, metadata, err := h.storage.GetObject(bucket, key, rng)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	w.Header().Set("ETag", metadata.ETag)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Last-Modified", metadata.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	status := http.StatusOK
	if cr := metadata.ContentRange; cr != nil {
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(cr.Start, 10)+"-"+
			strconv.FormatInt(cr.End, 10)+"/"+strconv.FormatInt(metadata.Size, 10))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	w.Write(data)
}

func (h *S3Handler) handleHeadObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	metadata, err := h.storage.HeadObject(bucket, key)
	if err != nil {
		// HEAD responses carry no body
		_, _, status := storageErrorCode(err)
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(metadata.Size, 10))
	w.Header().Set("Last-Modified", metadata.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", metadata.ETag)
	w.Header().Set("Accept-Ranges", "bytes")

	w.WriteHeader(http.StatusOK)
}

func (h *S3Handler) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if !h.storage.BucketExists(bucket) {
		h.writeError(w, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	}
	// Deleting a key whose parent is gone is still a success in S3.
	if err := h.storage.DeleteObject(bucket, key); err != nil && !errors.Is(err, memstore.ErrInvalidKey) {
		h.writeStorageError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *S3Handler) handleCopyObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	srcBucket, srcKey, ok := parseCopySource(r.Header.Get("X-Amz-Copy-Source"))
	if !ok {
		h.writeError(w, "InvalidArgument", "Invalid copy source", http.StatusBadRequest)
		return
	}
	if !h.storage.BucketExists(srcBucket) {
		h.writeError(w, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	}

	var (
		metadata *ObjectMetadata
		err      error
	)
	if strings.EqualFold(r.Header.Get(moveHeader), "true") {
		metadata, err = h.storage.MoveObject(srcBucket, srcKey, bucket, key)
	} else {
		metadata, err = h.storage.CopyObject(srcBucket, srcKey, bucket, key)
	}
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.writeXML(w, http.StatusOK, CopyObjectResult{
		ETag:         metadata.ETag,
		LastModified: metadata.LastModified.UTC().Format(time.RFC3339),
	})
}

// Helper functions
func (h *S3Handler) parsePath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		return "", ""
	}

	parts := strings.SplitN(path, "/", 2)
	bucket = parts[0]

	if len(parts) > 1 {
		key = parts[1]
	}

	return bucket, key
}

// parseCopySource splits an x-amz-copy-source value ("/bucket/key" or
// "bucket/key", URL-encoded) into bucket and key.
func parseCopySource(source string) (bucket, key string, ok bool) {
	if decoded, err := url.PathUnescape(source); err == nil {
		source = decoded
	}
	if i := strings.Index(source, "?"); i >= 0 {
		source = source[:i]
	}
	source = strings.TrimPrefix(source, "/")
	parts := strings.SplitN(source, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// parseRange reads a single "bytes=" range. Clamping to the object size is
// left to the storage.
func parseRange(header string) (*ObjectRange, error) {
	ranges, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(ranges, ",") {
		return nil, errors.New("unsupported range")
	}
	startStr, endStr, ok := strings.Cut(ranges, "-")
	if !ok {
		return nil, errors.New("malformed range")
	}

	if startStr == "" {
		// suffix range: last n bytes
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, errors.New("malformed range")
		}
		return &ObjectRange{Start: -1, End: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, errors.New("malformed range")
	}
	end := int64(-1)
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, errors.New("malformed range")
		}
	}
	return &ObjectRange{Start: start, End: end}, nil
}

// storageErrorCode maps storage failures onto S3 error codes.
func storageErrorCode(err error) (code, message string, status int) {
	switch {
	case errors.Is(err, ErrNoSuchBucket):
		return "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound
	case errors.Is(err, ErrBucketNotEmpty):
		return "BucketNotEmpty", "The bucket you tried to delete is not empty", http.StatusConflict
	case errors.Is(err, memstore.ErrInvalidKey):
		return "NoSuchKey", "The specified key does not exist", http.StatusNotFound
	case errors.Is(err, memstore.ErrInvalidMultipartID):
		return "NoSuchUpload", "The specified multipart upload does not exist", http.StatusNotFound
	case errors.Is(err, memstore.ErrInvalidMultipartChunks):
		return "InvalidPart", "One or more of the specified parts could not be found", http.StatusBadRequest
	case errors.Is(err, memstore.ErrInvalidBuffer):
		return "InvalidRange", "The requested range is not satisfiable", http.StatusRequestedRangeNotSatisfiable
	default:
		return "InternalError", err.Error(), http.StatusInternalServerError
	}
}

func (h *S3Handler) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	code, message, status := storageErrorCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("storage failure", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	h.writeError(w, code, message, status)
}

func (h *S3Handler) writeError(w http.ResponseWriter, code, message string, status int) {
	writeS3Error(w, code, message, status)
}

// writeXML writes an XML response with the standard XML declaration.
func (h *S3Handler) writeXML(w http.ResponseWriter, status int, v interface{}) {
	writeXML(w, status, v)
}

func writeS3Error(w http.ResponseWriter, code, message string, status int) {
	writeXML(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(v)
}

func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '.') {
			return false
		}
	}
	if name[0] == '-' || name[0] == '.' || name[len(name)-1] == '-' || name[len(name)-1] == '.' {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}

// XML response structures
type ListAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Xmlns   string   `xml:"xmlns,attr"`
	Owner   Owner    `xml:"Owner"`
	Buckets []Bucket `xml:"Buckets>Bucket"`
}

type Owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type Bucket struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type ListBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Xmlns                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	KeyCount              int            `xml:"KeyCount"`
	Contents              []Object       `xml:"Contents"`
	CommonPrefixes        []CommonPrefix `xml:"CommonPrefixes,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	StartAfter            string         `xml:"StartAfter,omitempty"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
}

type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type CopyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string   `xml:"ETag"`
	LastModified string   `xml:"LastModified"`
}

type ErrorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}
