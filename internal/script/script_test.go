package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscoverFindsSharedLibraries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.so"), []byte{0}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte{0}, 0o644))

	paths, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, filepath.Join(dir, "a.so"), paths[0])
}

func TestDiscoverMissingDirectoryReturnsNoError(t *testing.T) {
	paths, err := Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Nil(t, paths)
}

func TestExecuteWithoutPluginPathFails(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.Execute(context.Background(), map[string]interface{}{})
	require.Error(t, err)
}

func TestLoadRejectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.so")
	require.NoError(t, os.WriteFile(path, []byte("not a real plugin"), 0o644))

	r := NewRegistry(map[string]string{path: "0000000000000000000000000000000000000000000000000000000000000000"}, nil)
	_, err := r.Load(path, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "integrity check")
}

func TestLoadRejectsNonPluginFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notaplugin.so")
	require.NoError(t, os.WriteFile(path, []byte("not a real plugin"), 0o644))

	r := NewRegistry(nil, nil)
	_, err := r.Load(path, "")
	require.Error(t, err)
}
