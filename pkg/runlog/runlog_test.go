package runlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nzoschke/vak/pkg/version"
)

func TestOpenWritesVersion(t *testing.T) {
	dir := t.TempDir()
	l, err := Open("train", dir)
	require.NoError(t, err)
	l.Logger().Info("hello")
	require.NoError(t, l.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "train_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, l.Path(), matches[0])

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "vak version: "+version.Version)
	assert.Contains(t, string(data), "hello")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
