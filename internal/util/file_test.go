package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDirWritable(t *testing.T) {
	dir := t.TempDir()
	ok, err := IsDirWritable(dir)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestIsDirWritableNotADirectory(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "file.txt")
	assert.NoError(t, os.WriteFile(fn, []byte("x"), 0600))
	ok, err := IsDirWritable(fn)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestIsDirWritableMissing(t *testing.T) {
	ok, err := IsDirWritable(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
	assert.False(t, ok)
}
