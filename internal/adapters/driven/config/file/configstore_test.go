package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestConfig(t *testing.T) (*ConfigStore, string) {
	t.Helper()

	dir, err := os.MkdirTemp("", "docbrain-config-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewConfigStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestConfigStore_SetAndGet(t *testing.T) {
	store, _ := setupTestConfig(t)

	require.NoError(t, store.Set("embedding.provider", "openai"))
	require.NoError(t, store.Set("retriever.top_k", int64(12)))
	require.NoError(t, store.Set("retriever.rerank_lambda", 0.6))
	require.NoError(t, store.Set("serve.watch_inbox", true))
	require.NoError(t, store.Set("ingest.tags", []string{"inbox", "auto"}))

	assert.Equal(t, "openai", store.GetString("embedding.provider"))
	assert.Equal(t, 12, store.GetInt("retriever.top_k"))
	assert.InDelta(t, 0.6, store.GetFloat("retriever.rerank_lambda"), 1e-9)
	assert.True(t, store.GetBool("serve.watch_inbox"))
	assert.Equal(t, []string{"inbox", "auto"}, store.GetStringSlice("ingest.tags"))
}

func TestConfigStore_MissingKeysHaveZeroValues(t *testing.T) {
	store, _ := setupTestConfig(t)

	assert.Equal(t, "", store.GetString("missing"))
	assert.Equal(t, 0, store.GetInt("missing"))
	assert.Equal(t, 0.0, store.GetFloat("missing"))
	assert.False(t, store.GetBool("missing"))
	assert.Nil(t, store.GetStringSlice("missing"))
}

func TestConfigStore_PersistsAcrossReload(t *testing.T) {
	store, dir := setupTestConfig(t)

	require.NoError(t, store.Set("generation.model", "gpt-4o-mini"))

	reloaded, err := NewConfigStore(dir)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", reloaded.GetString("generation.model"))
}

func TestConfigStore_FlattensNestedTables(t *testing.T) {
	store, dir := setupTestConfig(t)

	raw := "[chunker]\nchunk_size = 500\noverlap = 50\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(raw), 0600))
	require.NoError(t, store.Load())

	assert.Equal(t, 500, store.GetInt("chunker.chunk_size"))
	assert.Equal(t, 50, store.GetInt("chunker.overlap"))
}

func TestConfigStore_IntAsFloat(t *testing.T) {
	store, _ := setupTestConfig(t)

	require.NoError(t, store.Set("composer.temperature", int64(1)))
	assert.InDelta(t, 1.0, store.GetFloat("composer.temperature"), 1e-9)
}
