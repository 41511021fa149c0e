// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListfile(t *testing.T) {
	data := []byte("Data\\A.txt\r\n\r\n  data/b.txt  \nDATA\\a.TXT\r\nc.txt")
	l := parseListfile(data)

	assert.Equal(t, []string{"Data\\A.txt", "data/b.txt", "c.txt"}, l.list())
	assert.True(t, l.contains("data\\a.txt"))
	assert.True(t, l.contains("Data\\B.TXT"))
	assert.False(t, l.contains("d.txt"))
}

func TestListfileAddRemove(t *testing.T) {
	l := newListfile()
	assert.True(t, l.add("one"))
	assert.True(t, l.add("two"))
	assert.True(t, l.add("three"))
	assert.False(t, l.add("TWO"))
	assert.False(t, l.add(""))

	assert.True(t, l.remove("Two"))
	assert.False(t, l.remove("two"))
	assert.Equal(t, []string{"one", "three"}, l.list())

	// The index follows the shifted names.
	assert.True(t, l.remove("three"))
	assert.Equal(t, []string{"one"}, l.list())
	assert.Equal(t, 1, l.len())
}

func TestListfileFilter(t *testing.T) {
	l := parseListfile([]byte("a\nb\nc\nd"))
	dropped := l.filter(func(name string) bool { return name != "b" && name != "d" })

	assert.Equal(t, []string{"b", "d"}, dropped)
	assert.Equal(t, []string{"a", "c"}, l.list())
	assert.False(t, l.contains("b"))
	assert.True(t, l.contains("c"))
}

func TestListfileListIsCopy(t *testing.T) {
	l := parseListfile([]byte("a\nb"))
	names := l.list()
	names[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, l.list())
}

func TestMarshalListfile(t *testing.T) {
	assert.Equal(t, []byte("a\r\nb\\c"), marshalListfile([]string{"a", "b\\c"}))
	assert.Empty(t, marshalListfile(nil))

	l := parseListfile(marshalListfile([]string{"x", "y"}))
	assert.Equal(t, []string{"x", "y"}, l.list())
}

func TestIsReservedName(t *testing.T) {
	for _, name := range []string{"(listfile)", "(ATTRIBUTES)", "(signature)"} {
		assert.True(t, isReservedName(name), name)
	}
	for _, name := range []string{"listfile", "Data\\(listfile)", "(listfile).txt"} {
		assert.False(t, isReservedName(name), name)
	}
}

func TestListfileSpelling(t *testing.T) {
	l := parseListfile([]byte("Data\\Test.txt"))
	assert.Equal(t, "Data\\Test.txt", l.spelling("data/TEST.txt"))
	assert.Equal(t, "other.txt", l.spelling("other.txt"))
}
