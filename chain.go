// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// Chain is a read-only stack of archives in increasing priority. A file in
// a later archive shadows the same name in earlier ones, and a deletion
// marker hides it.
type Chain struct {
	archives []*Archive

	// fileMap caches fileKey -> archive index for every listed name.
	fileMap map[uint64]int
}

// OpenChain opens the archives at paths read-only. The last path has the
// highest priority.
func OpenChain(paths []string, opts ...Option) (*Chain, error) {
	opts = append(opts[:len(opts):len(opts)], WithReadOnly(true))

	archives := make([]*Archive, 0, len(paths))
	for _, path := range paths {
		archive, err := Open(path, opts...)
		if err != nil {
			for _, opened := range archives {
				_ = opened.Close()
			}
			return nil, err
		}
		archives = append(archives, archive)
	}

	c := &Chain{archives: archives}
	c.rebuildFileMap()
	return c, nil
}

// rebuildFileMap indexes the listfiles, highest priority first so the
// first archive to claim a name keeps it.
func (c *Chain) rebuildFileMap() {
	c.fileMap = make(map[uint64]int)
	for i := len(c.archives) - 1; i >= 0; i-- {
		for _, name := range c.archives[i].ListEntries() {
			key := fileKey(name)
			if _, ok := c.fileMap[key]; !ok {
				c.fileMap[key] = i
			}
		}
	}
}

// resolve finds the archive serving name. Names missing from every
// listfile fall back to a scan of the hash tables.
func (c *Chain) resolve(name string) (*Archive, error) {
	if i, ok := c.fileMap[fileKey(name)]; ok {
		if a, err := check(c.archives[i], name); err != nil || a != nil {
			return a, err
		}
	}
	return c.resolveLinear(name)
}

func (c *Chain) resolveLinear(name string) (*Archive, error) {
	for i := len(c.archives) - 1; i >= 0; i-- {
		if a, err := check(c.archives[i], name); err != nil || a != nil {
			return a, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// check returns archive when it holds name and nil when it does not. A
// deletion marker is an ErrFileNotFound that ends the search.
func check(archive *Archive, name string) (*Archive, error) {
	_, b, err := archive.lookup(name)
	if errors.Is(err, ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.HasFlag(FlagDeleteMarker) {
		return nil, fmt.Errorf("%w: %s is deleted by a later archive", ErrFileNotFound, name)
	}
	return archive, nil
}

// HasFile reports whether the chain serves name.
func (c *Chain) HasFile(name string) bool {
	a, err := c.resolve(name)
	return err == nil && a != nil
}

// hasFileLinear is HasFile without the cache.
func (c *Chain) hasFileLinear(name string) bool {
	a, err := c.resolveLinear(name)
	return err == nil && a != nil
}

// ExtractBytes returns the highest priority version of name.
func (c *Chain) ExtractBytes(name string) ([]byte, error) {
	a, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	return a.ExtractBytes(name)
}

// ExtractFile writes the highest priority version of name to destPath.
func (c *Chain) ExtractFile(name, destPath string) error {
	a, err := c.resolve(name)
	if err != nil {
		return err
	}
	return a.ExtractFile(name, destPath)
}

// ListEntries returns the union of the listfiles, each name once, without
// names hidden by deletion markers.
func (c *Chain) ListEntries() []string {
	seen := make(map[uint64]struct{})
	var result []string
	for _, archive := range c.archives {
		for _, name := range archive.ListEntries() {
			key := fileKey(name)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if c.HasFile(name) {
				result = append(result, name)
			}
		}
	}
	return result
}

// Len returns the number of archives in the chain.
func (c *Chain) Len() int {
	return len(c.archives)
}

// Close closes every archive and returns the first error.
func (c *Chain) Close() error {
	var firstErr error
	for _, archive := range c.archives {
		if err := archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
