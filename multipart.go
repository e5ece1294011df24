package main

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/randilt/geckomem/memstore"
)

// maxCompleteBodySize bounds the CompleteMultipartUpload request body.
const maxCompleteBodySize = 1 << 20

func (h *S3Handler) handleCreateMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	uploadID, err := h.storage.CreateMultipartUpload(bucket, key)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.metrics.multipartEvent("created")

	h.writeXML(w, http.StatusOK, InitiateMultipartUploadResult{
		Xmlns:    "http://s3.amazonaws.com/doc/2006-03-01/",
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	})
}

func (h *S3Handler) handleUploadPart(w http.ResponseWriter, r *http.Request, bucket, key string) {
	query := r.URL.Query()
	partNumber, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		h.writeError(w, "InvalidArgument", "Part number must be an integer between 1 and 10000", http.StatusBadRequest)
		return
	}

	ref, err := h.storage.UploadPart(bucket, key, query.Get("uploadId"), partNumber, r.Body)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	// The chunk id doubles as the part ETag so completion can name it.
	w.Header().Set("ETag", "\""+ref.ID+"\"")
	w.WriteHeader(http.StatusOK)
}

func (h *S3Handler) handleCompleteMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCompleteBodySize))
	if err != nil {
		h.writeError(w, "InternalError", err.Error(), http.StatusInternalServerError)
		return
	}
	var request CompleteMultipartUpload
	if err := xml.Unmarshal(body, &request); err != nil {
		h.writeError(w, "MalformedXML", "The XML you provided was not well-formed", http.StatusBadRequest)
		return
	}

	parts := make([]memstore.ChunkRef, 0, len(request.Parts))
	for _, p := range request.Parts {
		parts = append(parts, memstore.ChunkRef{
			ID:     strings.Trim(p.ETag, "\""),
			Number: p.PartNumber,
		})
	}

	metadata, err := h.storage.CompleteMultipartUpload(bucket, key, r.URL.Query().Get("uploadId"), parts)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.metrics.multipartEvent("completed")

	h.writeXML(w, http.StatusOK, CompleteMultipartUploadResult{
		Xmlns:    "http://s3.amazonaws.com/doc/2006-03-01/",
		Location: "/" + bucket + "/" + key,
		Bucket:   bucket,
		Key:      key,
		ETag:     metadata.ETag,
	})
}

func (h *S3Handler) handleAbortMultipartUpload(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if err := h.storage.AbortMultipartUpload(bucket, key, r.URL.Query().Get("uploadId")); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.metrics.multipartEvent("aborted")

	w.WriteHeader(http.StatusNoContent)
}

type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type CompleteMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []CompletePart `xml:"Part"`
}

type CompletePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Xmlns    string   `xml:"xmlns,attr"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}
