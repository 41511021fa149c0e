// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

// Command mpqtool inspects and edits MPQ archives.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	mpq "github.com/suprsokr/mpqedit"
)

const usage = `Usage: mpqtool [-config file] [-v] <command> [arguments]

Commands:
  list <archive>
  info <archive>
  extract <archive> <name> <output-file>
  extract-all [-listfile file] <archive> <output-dir>
  add [-override] [-wave channels] <archive> <name> <file>
  delete <archive> <name>...
  rebuild [-recompress] [-strong] [-implode] [-shift n] [-no-attributes] <archive>
  verify <archive>...
`

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	verbose := flag.Bool("v", false, "log debug output")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.logger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	t := &tool{config: config, log: logger}
	args := flag.Args()[1:]

	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = t.list(args)
	case "info":
		err = t.info(args)
	case "extract":
		err = t.extract(args)
	case "extract-all":
		err = t.extractAll(args)
	case "add":
		err = t.add(args)
	case "delete":
		err = t.delete(args)
	case "rebuild":
		err = t.rebuild(args)
	case "verify":
		err = t.verify(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	var usageErr usageError
	switch {
	case errors.As(err, &usageErr):
		fmt.Fprintf(os.Stderr, "Usage: mpqtool %s\n", string(usageErr))
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// usageError carries the argument synopsis of a command.
type usageError string

func (e usageError) Error() string {
	return "usage: " + string(e)
}

type tool struct {
	config Config
	log    *logrus.Logger
}

func (t *tool) open(path string, readOnly bool) (*mpq.Archive, error) {
	return mpq.Open(path, t.config.options(t.log, readOnly)...)
}

// displayName decodes names stored in the Windows code page the games
// used. Names that are already valid UTF-8 are shown as they are.
func displayName(name string) string {
	if utf8.ValidString(name) {
		return name
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}

func (t *tool) list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("list <archive>")
	}

	archive, err := t.open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer archive.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Size\tStored\t Name")
	for _, name := range archive.ListEntries() {
		fi, err := archive.Stat(name)
		if err != nil {
			t.log.WithError(err).WithField("file", name).Warn("cannot stat file")
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t %s\n",
			humanize.IBytes(uint64(fi.Size)),
			humanize.IBytes(uint64(fi.CompressedSize)),
			displayName(name))
	}
	return w.Flush()
}

func (t *tool) info(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("info <archive>")
	}

	archive, err := t.open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer archive.Close()

	info := archive.Info()
	fmt.Println("Archive:", fs.Arg(0))
	fmt.Printf("  Format version:   %d\n", info.FormatVersion)
	fmt.Printf("  Header offset:    0x%X\n", info.HeaderOffset)
	fmt.Printf("  Archive size:     %s\n", humanize.IBytes(info.ArchiveSize))
	fmt.Printf("  Sector size:      %s\n", humanize.IBytes(uint64(info.SectorSize)))
	fmt.Printf("  Hash table:       %s entries\n", humanize.Comma(int64(info.HashTableSize)))
	fmt.Printf("  Block table:      %s entries\n", humanize.Comma(int64(info.BlockTableSize)))
	fmt.Printf("  Files:            %s (%s listed)\n", humanize.Comma(int64(info.Files)), humanize.Comma(int64(info.Listed)))
	fmt.Printf("  Attributes:       %t\n", info.HasAttributes)
	fmt.Printf("  Signature:        %t\n", info.HasSignature)
	return nil
}

func (t *tool) extract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 3 {
		return usageError("extract <archive> <name> <output-file>")
	}

	archive, err := t.open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer archive.Close()
	return archive.ExtractFile(fs.Arg(1), fs.Arg(2))
}

func (t *tool) extractAll(args []string) error {
	fs := flag.NewFlagSet("extract-all", flag.ExitOnError)
	listfile := fs.String("listfile", "", "name list for archives without a (listfile)")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return usageError("extract-all [-listfile file] <archive> <output-dir>")
	}

	// An external list only takes effect on a writable handle. Nothing is
	// staged, so closing without a rebuild leaves the archive untouched.
	archive, err := t.open(fs.Arg(0), *listfile == "")
	if err != nil {
		return err
	}
	defer archive.CloseWith(mpq.CloseOptions{Rebuild: mpq.RebuildNever})

	if *listfile != "" {
		if err := archive.SetExternalListfile(*listfile); err != nil {
			return err
		}
	}

	failures, err := archive.ExtractAll(fs.Arg(1))
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d files could not be extracted", len(failures))
	}
	return nil
}

func (t *tool) add(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	override := fs.Bool("override", false, "replace an existing file")
	wave := fs.Int("wave", 0, "store as sound data with this many channels (1 or 2)")
	fs.Parse(args)
	if fs.NArg() != 3 {
		return usageError("add [-override] [-wave channels] <archive> <name> <file>")
	}

	archive, err := t.openOrCreate(fs.Arg(0))
	if err != nil {
		return err
	}

	name, src := fs.Arg(1), fs.Arg(2)
	if *wave > 0 {
		var data []byte
		if data, err = os.ReadFile(src); err == nil {
			err = archive.InsertWave(name, data, *wave, *override)
		}
	} else {
		err = archive.InsertFile(name, src, *override)
	}
	if err != nil {
		archive.CloseWith(mpq.CloseOptions{Rebuild: mpq.RebuildNever})
		return err
	}
	return archive.Close()
}

func (t *tool) openOrCreate(path string) (*mpq.Archive, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		t.log.WithField("archive", path).Info("creating new archive")
		return mpq.Create(path, t.config.options(t.log, false)...)
	}
	return t.open(path, false)
}

func (t *tool) delete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return usageError("delete <archive> <name>...")
	}

	archive, err := t.open(fs.Arg(0), false)
	if err != nil {
		return err
	}
	for _, name := range fs.Args()[1:] {
		if err := archive.DeleteFile(name); err != nil {
			archive.CloseWith(mpq.CloseOptions{Rebuild: mpq.RebuildNever})
			return err
		}
	}
	return archive.Close()
}

func (t *tool) rebuild(args []string) error {
	rc := t.config.Recompress
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	fs.BoolVar(&rc.Enabled, "recompress", rc.Enabled, "re-encode existing files")
	fs.BoolVar(&rc.UseStrongCodec, "strong", rc.UseStrongCodec, "search deflate levels for the smallest output")
	fs.BoolVar(&rc.Implode, "implode", rc.Implode, "use PKWare DCL instead of deflate")
	fs.IntVar(&rc.Iterations, "iterations", rc.Iterations, "levels the strong codec tries")
	shift := fs.Uint("shift", uint(rc.SectorSizeShift), "sector size as 512 << shift")
	noAttributes := fs.Bool("no-attributes", false, "drop the (attributes) entry")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return usageError("rebuild [-recompress] [-strong] [-implode] [-shift n] [-no-attributes] <archive>")
	}
	rc.SectorSizeShift = uint16(min(*shift, 15))

	archive, err := t.open(fs.Arg(0), false)
	if err != nil {
		return err
	}
	if !archive.Writable() {
		archive.Close()
		return fmt.Errorf("%s: %w", fs.Arg(0), mpq.ErrReadOnly)
	}

	opts := mpq.DefaultCloseOptions()
	opts.Rebuild = mpq.RebuildAlways
	opts.WriteAttributes = !*noAttributes
	opts.Recompress = rc

	before := archive.Info().ArchiveSize
	if err := archive.CloseWith(opts); err != nil {
		return err
	}

	after, err := os.Stat(fs.Arg(0))
	if err != nil {
		return err
	}
	t.log.WithFields(logrus.Fields{
		"before": humanize.IBytes(before),
		"after":  humanize.IBytes(uint64(after.Size())),
	}).Info("rebuilt archive")
	return nil
}

// verifyResult is the outcome of checking one archive.
type verifyResult struct {
	path    string
	checked int
	bad     []string
}

func (t *tool) verify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return usageError("verify <archive>...")
	}

	results := make([]verifyResult, fs.NArg())
	var g errgroup.Group
	g.SetLimit(t.config.Workers)
	for i, path := range fs.Args() {
		g.Go(func() error {
			res, err := t.verifyArchive(path)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		status := "OK"
		if len(res.bad) > 0 {
			status = "FAILED"
			failed++
		}
		fmt.Printf("%s: %s (%d files)\n", res.path, status, res.checked)
		for _, name := range res.bad {
			fmt.Printf("  %s\n", displayName(name))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failed, len(results))
	}
	return nil
}

// verifyArchive extracts every listed file of the archive at path and
// checks it against (attributes) when the archive has them. Unreadable
// files count as bad.
func (t *tool) verifyArchive(path string) (verifyResult, error) {
	res := verifyResult{path: path}
	archive, err := t.open(path, true)
	if err != nil {
		return res, err
	}
	defer archive.Close()

	withCRC := archive.Info().HasAttributes
	for _, name := range archive.ListEntries() {
		res.checked++
		ok := true
		_, err := archive.ExtractBytes(name)
		if err == nil && withCRC {
			ok, err = archive.VerifyCRC(name)
		}
		if err != nil {
			t.log.WithError(err).WithField("file", name).Warn("cannot verify file")
		}
		if err != nil || !ok {
			res.bad = append(res.bad, name)
		}
	}
	return res, nil
}
