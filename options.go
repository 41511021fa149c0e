// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "github.com/sirupsen/logrus"

// Option configures how an archive is opened or created.
type Option func(*options)

type options struct {
	readOnly        bool
	legacy          bool
	logger          logrus.FieldLogger
	tempDir         string
	version         FormatVersion
	sectorSizeShift uint16
}

func defaultOptions() options {
	return options{
		logger:          logrus.StandardLogger(),
		version:         FormatV0,
		sectorSizeShift: defaultSectorSizeShift,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithReadOnly opens the archive without write access. Inserts and deletes
// fail with ErrReadOnly and Close never rebuilds.
func WithReadOnly(readOnly bool) Option {
	return func(o *options) {
		o.readOnly = readOnly
	}
}

// WithLegacyCompat reads the archive the way the original game clients do:
// the header is always treated as a 32-byte version 0 header, user data
// headers are not followed, and table sizes are clamped to the file.
func WithLegacyCompat(legacy bool) Option {
	return func(o *options) {
		o.legacy = legacy
	}
}

// WithLogger sets the logger for warnings about archive consistency.
// The default is the logrus standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTempDir sets where the rebuilt archive is staged before it replaces
// the original. By default it is the archive's own directory.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// WithFormatVersion sets the header version of a new archive.
// It only applies to Create.
func WithFormatVersion(v FormatVersion) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithSectorSizeShift sets the sector size of a new archive to 512 << shift.
// It only applies to Create. Values above 15 are clamped.
func WithSectorSizeShift(shift uint16) Option {
	return func(o *options) {
		o.sectorSizeShift = min(shift, maxSectorSizeShift)
	}
}

// RebuildMode selects when Close rewrites the archive.
type RebuildMode int

const (
	// RebuildIfModified rebuilds only after an insert, delete or listfile
	// change.
	RebuildIfModified RebuildMode = iota
	// RebuildAlways rebuilds every writable archive.
	RebuildAlways
	// RebuildNever only releases the handle. Pending changes are lost.
	RebuildNever
)

// RecompressOptions controls re-encoding of file data during a rebuild.
type RecompressOptions struct {
	// Enabled re-encodes existing files instead of copying their stored
	// bytes. Sound files (.wav) are still copied.
	Enabled bool `yaml:"enabled"`

	// UseStrongCodec picks the smallest of several deflate levels.
	UseStrongCodec bool `yaml:"strong"`

	// Iterations bounds the number of levels the strong codec tries.
	Iterations int `yaml:"iterations"`

	// SectorSizeShift is the sector size of the rebuilt archive when
	// Enabled is set, as 512 << shift.
	SectorSizeShift uint16 `yaml:"sectorSizeShift"`

	// Implode uses PKWare DCL instead of deflate.
	Implode bool `yaml:"implode"`
}

// DefaultRecompressOptions returns options with recompression disabled.
func DefaultRecompressOptions() RecompressOptions {
	return RecompressOptions{
		Iterations:      16,
		SectorSizeShift: defaultSectorSizeShift,
	}
}

// codec returns the backend new and re-encoded files are stored with.
func (r RecompressOptions) codec() codec {
	switch {
	case r.Implode:
		return implodeCodec{}
	case r.UseStrongCodec:
		return strongCodec{iterations: r.Iterations}
	default:
		return defaultDeflate
	}
}

// CloseOptions controls what Close writes.
type CloseOptions struct {
	Rebuild RebuildMode

	// WriteListfile stores a (listfile) naming every file. Without it the
	// rebuilt archive opens read-only.
	WriteListfile bool

	// WriteAttributes carries the (attributes) entry over when the archive
	// has one.
	WriteAttributes bool

	// KeepHeaderOffset keeps everything in front of the archive header,
	// such as a user data block or an executable stub.
	KeepHeaderOffset bool

	Recompress RecompressOptions
}

// DefaultCloseOptions returns the options Close uses.
func DefaultCloseOptions() CloseOptions {
	return CloseOptions{
		Rebuild:          RebuildIfModified,
		WriteListfile:    true,
		WriteAttributes:  true,
		KeepHeaderOffset: true,
		Recompress:       DefaultRecompressOptions(),
	}
}
