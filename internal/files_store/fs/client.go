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

// Package fs keeps checkpoints and results under a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/api"
)

const DefaultTimeout = 30 * time.Second

// temp files are written next to their target and skipped by List
const tempPattern = ".tmp-*"

var (
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrFileExists   = errors.New("file already exists")
)

// Client implements api.FilesClient on the local filesystem. Every write goes through a
// synced temp file. Store publishes it with a hard link, which fails if the name is taken,
// and Replace with a rename.
type Client struct {
	basePath       string
	defaultTimeout time.Duration
}

var _ api.FilesClient = (*Client)(nil)

// New creates basePath if needed and roots the client there.
func New(basePath string) (*Client, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Client{
		basePath:       filepath.Clean(absPath),
		defaultTimeout: DefaultTimeout,
	}, nil
}

func (c *Client) BasePath() string {
	return c.basePath
}

func (c *Client) SetDefaultTimeout(timeout time.Duration) {
	c.defaultTimeout = timeout
}

// resolvePath maps a location to a path under basePath and rejects anything escaping it.
func (c *Client) resolvePath(location string) (string, error) {
	fullPath := filepath.Join(c.basePath, filepath.Clean(location))
	if fullPath != c.basePath && !strings.HasPrefix(fullPath, c.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path %q: %w", location, os.ErrInvalid)
	}
	return fullPath, nil
}

func (c *Client) relative(fullPath string) string {
	rel, err := filepath.Rel(c.basePath, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(rel)
}

func (c *Client) Store(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (
	*api.FileMetadata, error,
) {
	return c.write(ctx, location, fileSizeLimit, reader, func(tmpPath, fullPath string) error {
		if err := os.Link(tmpPath, fullPath); err != nil {
			if errors.Is(err, os.ErrExist) {
				return ErrFileExists
			}
			return fmt.Errorf("failed to publish file: %w", err)
		}
		return nil
	})
}

// Replace overwrites location. Readers see either the old or the new content in full.
func (c *Client) Replace(ctx context.Context, location string, fileSizeLimit int64, reader io.Reader) (
	*api.FileMetadata, error,
) {
	return c.write(ctx, location, fileSizeLimit, reader, func(tmpPath, fullPath string) error {
		if err := os.Rename(tmpPath, fullPath); err != nil {
			return fmt.Errorf("failed to rename file: %w", err)
		}
		return nil
	})
}

func (c *Client) write(
	ctx context.Context, location string, fileSizeLimit int64, reader io.Reader,
	publish func(tmpPath, fullPath string) error,
) (*api.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, err
	}
	tmpPath, err := writeTemp(filepath.Dir(fullPath), fileSizeLimit, reader)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	if err := publish(tmpPath, fullPath); err != nil {
		return nil, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &api.FileMetadata{Location: c.relative(fullPath), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// writeTemp copies at most fileSizeLimit bytes into a synced temp file in dir.
func writeTemp(dir string, fileSizeLimit int64, reader io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(tmp, io.LimitReader(reader, fileSizeLimit+1))
	if err == nil && written > fileSizeLimit {
		err = ErrFileTooLarge
	} else if err != nil {
		err = fmt.Errorf("failed to write file: %w", err)
	}
	if err == nil {
		if serr := tmp.Sync(); serr != nil {
			err = fmt.Errorf("failed to sync temp file: %w", serr)
		}
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// Retrieve opens location for reading. A missing file yields os.ErrNotExist.
func (c *Client) Retrieve(ctx context.Context, location string) (io.ReadCloser, *api.FileMetadata, error) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return file, &api.FileMetadata{Location: c.relative(fullPath), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the files of one directory whose location starts with prefix, sorted by
// location. A missing directory is an empty listing.
func (c *Client) List(ctx context.Context, prefix string) ([]api.FileMetadata, error) {
	dirPart, namePart := filepath.Split(filepath.FromSlash(prefix))
	dir, err := c.resolvePath(dirPart)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []api.FileMetadata
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasPrefix(name, namePart) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		files = append(files, api.FileMetadata{
			Location: c.relative(filepath.Join(dir, name)),
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Location < files[j].Location })
	return files, nil
}

func (c *Client) GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc) {
	if timeLimit == 0 {
		timeLimit = c.defaultTimeout
	}
	return context.WithTimeout(parentCtx, timeLimit)
}

func (c *Client) Close() error {
	return nil
}
