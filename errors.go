// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches at most one of
// these with errors.Is.
var (
	// ErrFormat reports malformed or unsupported archive content.
	ErrFormat = errors.New("mpq: format error")

	// ErrCapacity reports a table that has no room left.
	ErrCapacity = errors.New("mpq: capacity exhausted")

	// ErrUsage reports a call that is not valid for the handle's state.
	ErrUsage = errors.New("mpq: usage error")

	// ErrIO reports a failure of the underlying storage.
	ErrIO = errors.New("mpq: i/o error")
)

var (
	ErrNoArchive              = fmt.Errorf("%w: no MPQ archive in file", ErrFormat)
	ErrBadHeaderSize          = fmt.Errorf("%w: bad header size", ErrFormat)
	ErrBadHashTableSize       = fmt.Errorf("%w: hash table size is not a power of two", ErrFormat)
	ErrUnsupportedCompression = fmt.Errorf("%w: unsupported compression", ErrFormat)
	ErrCorruptSector          = fmt.Errorf("%w: corrupt sector data", ErrFormat)

	ErrHashTableFull = fmt.Errorf("%w: hash table is full", ErrCapacity)

	ErrReadOnly           = fmt.Errorf("%w: archive is read-only", ErrUsage)
	ErrDuplicateFile      = fmt.Errorf("%w: archive already contains file", ErrUsage)
	ErrNegativeBlockIndex = fmt.Errorf("%w: negative block index", ErrUsage)
	ErrClosed             = fmt.Errorf("%w: archive is closed", ErrUsage)
	ErrReservedName       = fmt.Errorf("%w: name is reserved for archive metadata", ErrUsage)
	ErrEncryptedBlock     = fmt.Errorf("%w: encrypted block needs its file name", ErrUsage)

	// ErrFileNotFound is returned when a name has no live mapping.
	ErrFileNotFound = errors.New("mpq: file not found")
)

// ioError tags err as an ErrIO while keeping it in the chain.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}
