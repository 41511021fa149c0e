// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

// benchChain builds archives archives of files entries each and opens them
// as a chain.
func benchChain(b *testing.B, archives, files int) *Chain {
	b.Helper()
	tmpDir := b.TempDir()
	logger, _ := test.NewNullLogger()

	var paths []string
	for i := 0; i < archives; i++ {
		path := filepath.Join(tmpDir, fmt.Sprintf("archive_%d.mpq", i))
		archive, err := Create(path, WithLogger(logger))
		if err != nil {
			b.Fatal(err)
		}
		for j := 0; j < files; j++ {
			name := fmt.Sprintf("Data\\File_%c.txt", 'a'+j)
			content := []byte(fmt.Sprintf("test content %d%c", i, 'a'+j))
			if err := archive.InsertBytes(name, content, false); err != nil {
				b.Fatal(err)
			}
		}
		if err := archive.Close(); err != nil {
			b.Fatal(err)
		}
		paths = append(paths, path)
	}

	chain, err := OpenChain(paths, WithLogger(logger))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { chain.Close() })
	return chain
}

// BenchmarkChainLookup benchmarks file lookup through the name cache
func BenchmarkChainLookup(b *testing.B) {
	chain := benchChain(b, 5, 20)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		chain.HasFile("Data\\File_a.txt")
		chain.HasFile("Data\\File_j.txt")
		chain.HasFile("Data\\File_t.txt")
		chain.HasFile("Data\\NonExistent.txt")
	}
}

// BenchmarkChainLinearLookup benchmarks file lookup with linear search
func BenchmarkChainLinearLookup(b *testing.B) {
	chain := benchChain(b, 5, 20)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		chain.hasFileLinear("Data\\File_a.txt")
		chain.hasFileLinear("Data\\File_j.txt")
		chain.hasFileLinear("Data\\File_t.txt")
		chain.hasFileLinear("Data\\NonExistent.txt")
	}
}

// BenchmarkChainExtract benchmarks file extraction with cache
func BenchmarkChainExtract(b *testing.B) {
	chain := benchChain(b, 3, 10)
	outputDir := b.TempDir()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		destPath := filepath.Join(outputDir, "extracted.txt")
		if err := chain.ExtractFile("Data\\File_a.txt", destPath); err != nil {
			b.Fatal(err)
		}
		os.Remove(destPath)
	}
}
