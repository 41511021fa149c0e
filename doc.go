// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq reads and edits MPQ (Mo'PaQ) archives.

MPQ is the archive format of Blizzard's games from Diablo to World of
Warcraft. This package opens archives of header versions 0 through 3,
decodes deflate, PKWare implode, Huffman and ADPCM sectors, decrypts
encrypted files, and writes archives back by rebuilding them.

# Editing model

Inserts and deletes only stage changes. Nothing touches the archive until
Close, which writes a compacted copy next to the original and replaces it
once the copy is complete. A failed rebuild leaves the original unchanged.

	archive, err := mpq.Open("patch.mpq")
	if err != nil {
		log.Fatal(err)
	}
	if err := archive.InsertFile("Data\\file.txt", "local/file.txt", false); err != nil {
		log.Fatal(err)
	}
	if err := archive.Close(); err != nil {
		log.Fatal(err)
	}

The hash table cannot be enumerated, so a rebuild only keeps files named
in the (listfile). An archive without one opens read-only unless a list is
supplied with [Archive.SetExternalListfile].

# Path conventions

Names are matched without regard to ASCII case, and forward slashes are
treated as backslashes:

	archive.HasFile("Data\\SubDir\\file.txt")
	archive.HasFile("data/subdir/FILE.TXT") // same file

# Limitations

  - LZMA, bzip2 and sparse sectors fail with [ErrUnsupportedCompression]
  - Huffman streams only decode with weight table 0, the one sound files use
  - HET/BET tables of version 3 archives are not read
  - Only one writer may use an archive file at a time
*/
package mpq
