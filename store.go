// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// rename is os.Rename; tests replace it to reach the copy fallback.
var rename = os.Rename

// store is the random access backing of an open archive. replace swaps in
// the complete new image staged at tmpPath and consumes that file.
type store interface {
	io.ReaderAt
	Size() int64
	replace(tmpPath string) error
	Close() error
}

type fileStore struct {
	f    *os.File
	path string
	size int64
}

func openFileStore(path string, writable bool) (*fileStore, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, ioError("open archive", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat archive", err)
	}
	return &fileStore{f: f, path: path, size: info.Size()}, nil
}

func (s *fileStore) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileStore) Size() int64 {
	return s.size
}

// replace closes the handle and moves tmpPath over the archive. When the
// rename fails, for example across filesystems, the content is first copied
// next to the archive and that copy renamed over it. The archive is never
// written in place.
func (s *fileStore) replace(tmpPath string) error {
	if err := s.f.Close(); err != nil {
		return ioError("close archive", err)
	}
	s.f = nil

	if err := rename(tmpPath, s.path); err == nil {
		return nil
	}
	defer os.Remove(tmpPath)

	sibling, err := copyBeside(tmpPath, s.path)
	if err != nil {
		return ioError("save archive", err)
	}
	if err := rename(sibling, s.path); err != nil {
		os.Remove(sibling)
		return ioError("save archive", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	if err != nil {
		return ioError("close archive", err)
	}
	return nil
}

// memStore keeps the archive image in memory.
type memStore struct {
	*bytes.Reader
	data []byte
}

func newMemStore(data []byte) *memStore {
	return &memStore{Reader: bytes.NewReader(data), data: data}
}

func (s *memStore) replace(tmpPath string) error {
	defer os.Remove(tmpPath)
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return ioError("read rebuilt archive", err)
	}
	s.data = data
	s.Reader = bytes.NewReader(data)
	return nil
}

func (s *memStore) Close() error {
	return nil
}

// copyBeside copies src into a new temporary file in the directory of dst,
// with the permissions of dst, and returns its path.
func copyBeside(src, dst string) (path string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	if info, err := os.Stat(dst); err == nil {
		if err := out.Chmod(info.Mode().Perm()); err != nil {
			return "", err
		}
	}
	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	if err := out.Sync(); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return out.Name(), nil
}
