// Package storage defines persistence contracts for uploaded office files.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested upload is missing.
	ErrNotFound = errors.New("upload not found")
	// ErrAlreadyExists indicates an upload key is already taken.
	ErrAlreadyExists = errors.New("upload already exists")
)

// Upload is one original file as received from a client.
type Upload struct {
	Key       string
	Name      string
	Data      []byte
	CreatedAt time.Time
}

// UploadStore keeps original upload bytes. Put returns the locator that Get
// accepts; callers treat it as opaque.
type UploadStore interface {
	PutUpload(ctx context.Context, upload Upload) (string, error)
	GetUpload(ctx context.Context, locator string) (Upload, error)
	Close() error
}
