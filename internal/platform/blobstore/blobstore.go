// Package blobstore stores profile photos. It defines the Store interface,
// an in-memory implementation for tests, a local disk store served under
// /profile-photos/, a Cloudinary-backed store, and the Echo handler that
// serves locally stored photos.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// DefaultMaxSize applies when a store is built with a non-positive limit.
const DefaultMaxSize = 5 << 20

// PublicPrefix is the URL path locally stored photos are served from.
const PublicPrefix = "/profile-photos/"

// AllowedContentTypes are the sniffed types accepted for profile photos.
var AllowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
}

// keyPattern matches the keys this package generates and the seeded photo
// file names. Anything else is rejected before touching storage.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*\.(png|jpg|jpeg)$`)

// Object describes a stored photo. Ref is the value persisted in the users
// table: a bare key for local stores, an absolute URL for Cloudinary.
type Object struct {
	Key         string    `json:"key"`
	Ref         string    `json:"ref"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for photo storage backends.
type Store interface {
	Put(ctx context.Context, fileName string, content io.Reader) (*Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, ref string) error
}

// readPhoto reads at most maxSize bytes, sniffs the content type and derives
// a fresh key. The declared multipart content type is ignored.
func readPhoto(fileName string, content io.Reader, maxSize int64) ([]byte, *Object, error) {
	if strings.TrimSpace(fileName) == "" {
		return nil, nil, ErrMissingFileName
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, nil, ErrFileTooLarge
	}

	contentType := http.DetectContentType(data)
	ext, ok := AllowedContentTypes[contentType]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	h := sha256.Sum256(data)
	key := uuid.New().String() + ext
	return data, &Object{
		Key:         key,
		Ref:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// keyFromRef extracts a local key from a stored ref, accepting bare keys and
// /profile-photos/ paths.
func keyFromRef(ref string) (string, bool) {
	key := strings.TrimPrefix(ref, PublicPrefix)
	if !keyPattern.MatchString(key) {
		return "", false
	}
	return key, true
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	object  Object
	content []byte
}

// InMemoryStore is a thread-safe, in-memory Store for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
}

func NewInMemoryStore(maxSize int64) *InMemoryStore {
	return &InMemoryStore{
		blobs:   make(map[string]*storedBlob),
		maxSize: maxSize,
	}
}

func (s *InMemoryStore) Put(_ context.Context, fileName string, content io.Reader) (*Object, error) {
	data, obj, err := readPhoto(fileName, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[obj.Key] = &storedBlob{object: *obj, content: data}
	s.mu.Unlock()

	return obj, nil
}

func (s *InMemoryStore) Open(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

func (s *InMemoryStore) Delete(_ context.Context, ref string) error {
	key, ok := keyFromRef(ref)
	if !ok {
		return ErrBlobNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored photos.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// PhotoHandler serves photos held by a local Store.
type PhotoHandler struct {
	store Store
}

func NewPhotoHandler(store Store) *PhotoHandler {
	return &PhotoHandler{store: store}
}

// RegisterRoutes mounts GET /profile-photos/:name.
func (h *PhotoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET(path.Join(PublicPrefix, ":name"), h.handleGet)
}

func (h *PhotoHandler) handleGet(c echo.Context) error {
	key, ok := keyFromRef(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "photo not found")
	}

	rc, obj, err := h.store.Open(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "photo not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "photo store unavailable")
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "private, max-age=86400")
	if obj.Hash != "" {
		c.Response().Header().Set("ETag", `"`+obj.Hash+`"`)
	}
	return c.Stream(http.StatusOK, obj.ContentType, rc)
}
