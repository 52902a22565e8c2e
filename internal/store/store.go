// Package store provides abstractions for file storage operations.
package store

import (
	"context"
	"io"
	"time"
)

// FileInfo represents file metadata.
type FileInfo struct {
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Store abstracts the git-backed working tree of the catalog.
type Store interface {
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, dir string) ([]FileInfo, error)

	// WriteStream writes a single large file.
	WriteStream(ctx context.Context, path string, reader io.Reader) (int64, error)
	Delete(ctx context.Context, path string) error

	// BeginTx groups writes that must land in the working tree together.
	BeginTx(ctx context.Context) (Transaction, error)

	// Commit records every pending change of the working tree.
	Commit(ctx context.Context, message string) error
	Push(ctx context.Context) error
}

// Transaction stages files and places them in the working tree at once.
// Nothing is visible until Apply.
type Transaction interface {
	Write(path string, content []byte) error
	Apply(ctx context.Context) error
	Rollback() error
}
