package io

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic_CreatesDirsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "positions.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]float64{"SOL": 10}))
	require.NoError(t, WriteJSONAtomic(path, map[string]float64{"BTC": 0.5}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]float64{"BTC": 0.5}, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteJSONAtomic_EncodeFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")

	err := WriteJSONAtomic(path, map[string]any{"ch": make(chan int)})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
