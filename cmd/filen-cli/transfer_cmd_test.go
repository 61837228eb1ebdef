package main

import (
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRecursiveForDirsRejectsDirWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	orig := flagRecursive
	defer func() { flagRecursive = orig }()

	flagRecursive = false
	assert.Error(t, requireRecursiveForDirs([]string{dir}))

	flagRecursive = true
	assert.NoError(t, requireRecursiveForDirs([]string{dir}))
}

func TestRequireRecursiveForDirsAllowsPlainFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	orig := flagRecursive
	defer func() { flagRecursive = orig }()
	flagRecursive = false
	assert.NoError(t, requireRecursiveForDirs([]string{file}))
}

func TestHashLocalFileMatchesSHA512(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("some plaintext content to hash")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := hashLocalFile(path)
	require.NoError(t, err)

	sum := sha512.Sum512(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), got)
}
