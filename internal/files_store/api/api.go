/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api defines the storage contract shared by the file store backends.
package api

import (
	"context"
	"io"
	"time"
)

// FileMetadata describes a stored file. Location is relative to the store root and can
// be passed back to Retrieve.
type FileMetadata struct {
	Location string
	Size     int64
	ModTime  time.Time
}

type FilesClient interface {
	// Store writes a new file and fails with ErrFileExists if the location is taken.
	Store(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (*FileMetadata, error)

	// Replace writes a file, atomically overwriting any previous content.
	Replace(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (*FileMetadata, error)

	// Retrieve opens a file for reading. The caller closes the reader.
	// A missing file yields an error matching os.ErrNotExist.
	Retrieve(ctx context.Context, location string) (io.ReadCloser, *FileMetadata, error)

	// List returns the files whose location starts with prefix.
	List(ctx context.Context, prefix string) ([]FileMetadata, error)

	// GetContext returns a derived context bounded by timeLimit, or the client's default when zero.
	GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc)

	Close() error
}
