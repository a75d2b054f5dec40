package blobstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// DiskStore keeps photos as files in a single directory.
type DiskStore struct {
	dir     string
	maxSize int64
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, maxSize: maxSize}, nil
}

func (s *DiskStore) Put(_ context.Context, fileName string, content io.Reader) (*Object, error) {
	data, obj, err := readPhoto(fileName, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	// Write to a temp file and rename so readers never see a partial photo.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, obj.Key)); err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}

	return obj, nil
}

func (s *DiskStore) Open(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	key, ok := keyFromRef(key)
	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open photo: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat photo: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", key, info.Size(), info.ModTime().UnixNano())))

	return f, &Object{
		Key:         key,
		Ref:         key,
		ContentType: contentType,
		Size:        info.Size(),
		Hash:        fmt.Sprintf("%x", sum[:8]),
		CreatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *DiskStore) Delete(_ context.Context, ref string) error {
	key, ok := keyFromRef(ref)
	if !ok {
		return ErrBlobNotFound
	}
	if err := os.Remove(filepath.Join(s.dir, key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}
