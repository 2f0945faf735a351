// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileClient copies files into a local directory tree. Buckets become
// subdirectories of the root. It backs the "file" provider and tests.
type FileClient struct {
	root string
}

func NewFileClient(root string) *FileClient {
	return &FileClient{root: root}
}

// Path returns where bucket/key is stored.
func (c *FileClient) Path(bucket, key string) string {
	return filepath.Join(c.root, bucket, filepath.FromSlash(key))
}

// UploadObject copies a local file into the bucket/key location.
func (c *FileClient) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	dst := c.Path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	src, err := os.Open(sourceFilename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	recordUpload(ctx, "file", bucket, n)
	return nil
}

// DeleteObject removes the file at bucket/key if it exists.
func (c *FileClient) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := os.Remove(c.Path(bucket, key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
