// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"strings"
)

// Reserved entry names.
const (
	listfileName   = "(listfile)"
	attributesName = "(attributes)"
	signatureName  = "(signature)"
)

func isReservedName(name string) bool {
	key := fileKey(name)
	return key == fileKey(listfileName) || key == fileKey(attributesName) || key == fileKey(signatureName)
}

// listfile is the ordered set of known names, keyed the way the hash table
// keys them so that case and separator variants collapse into one entry.
type listfile struct {
	names []string
	index map[uint64]int
}

func newListfile() *listfile {
	return &listfile{index: make(map[uint64]int)}
}

// parseListfile reads one name per line. Blank lines are skipped and
// repeated names keep their first spelling.
func parseListfile(data []byte) *listfile {
	l := newListfile()
	for _, line := range bytes.Split(data, []byte("\n")) {
		l.add(strings.TrimSpace(string(line)))
	}
	return l
}

func (l *listfile) len() int {
	return len(l.names)
}

func (l *listfile) contains(name string) bool {
	_, ok := l.index[fileKey(name)]
	return ok
}

// spelling returns name as the list first recorded it.
func (l *listfile) spelling(name string) string {
	if pos, ok := l.index[fileKey(name)]; ok {
		return l.names[pos]
	}
	return name
}

// add appends name unless an equal name is already present.
func (l *listfile) add(name string) bool {
	if name == "" {
		return false
	}
	key := fileKey(name)
	if _, ok := l.index[key]; ok {
		return false
	}
	l.index[key] = len(l.names)
	l.names = append(l.names, name)
	return true
}

func (l *listfile) remove(name string) bool {
	key := fileKey(name)
	pos, ok := l.index[key]
	if !ok {
		return false
	}
	delete(l.index, key)
	l.names = append(l.names[:pos], l.names[pos+1:]...)
	for i := pos; i < len(l.names); i++ {
		l.index[fileKey(l.names[i])] = i
	}
	return true
}

// filter keeps the names keep returns true for and returns the dropped ones.
func (l *listfile) filter(keep func(string) bool) []string {
	var dropped []string
	kept := newListfile()
	for _, name := range l.names {
		if keep(name) {
			kept.add(name)
		} else {
			dropped = append(dropped, name)
		}
	}
	*l = *kept
	return dropped
}

// list returns a copy of the names in order.
func (l *listfile) list() []string {
	return append([]string(nil), l.names...)
}

func marshalListfile(names []string) []byte {
	return []byte(strings.Join(names, "\r\n"))
}
