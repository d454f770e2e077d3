// Package blobstore stores the binary attachments behind medical records and
// prescription images. It defines the Store interface, an in-memory
// implementation for development and tests, and an S3-backed implementation.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// MaxFileSize is the maximum allowed blob size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// RefScheme prefixes the references handed back to callers so that stored
// attachments can be told apart from caller-supplied URLs.
const RefScheme = "blob://"

// AllowedContentTypes lists the document and image types accepted as attachments.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Ref returns the caller-facing reference for the object.
func (o *Object) Ref() string {
	return Ref(o.Key)
}

// Store defines the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, fileName, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

func Ref(key string) string {
	return RefScheme + key
}

// ParseRef extracts the object key from a reference produced by Ref.
func ParseRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, RefScheme) {
		return "", false
	}
	key := strings.TrimPrefix(ref, RefScheme)
	return key, key != ""
}

// readUpload validates the inputs shared by every backend and buffers the
// content so its size and hash are known before it is stored.
func readUpload(fileName, contentType string, content io.Reader) ([]byte, string, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, "", ErrMissingFileName
	}
	if !AllowedContentTypes[contentType] {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	h := sha256.Sum256(data)
	return data, fmt.Sprintf("%x", h), nil
}

func newKey(prefix, fileName string) string {
	return prefix + uuid.New().String() + strings.ToLower(path.Ext(fileName))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	object  Object
	content []byte
}

// InMemory is a thread-safe Store for tests and local development.
type InMemory struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemory() *InMemory {
	return &InMemory{blobs: make(map[string]*storedBlob)}
}

func (s *InMemory) Put(_ context.Context, fileName, contentType string, content io.Reader) (*Object, error) {
	data, hash, err := readUpload(fileName, contentType, content)
	if err != nil {
		return nil, err
	}
	obj := Object{
		Key:         newKey("", fileName),
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[obj.Key] = &storedBlob{object: obj, content: data}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *InMemory) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

func (s *InMemory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len reports the number of stored blobs.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
