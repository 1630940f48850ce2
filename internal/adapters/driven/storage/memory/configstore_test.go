package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore(t *testing.T) {
	store := NewConfigStore()

	require.NoError(t, store.Set("classifier.model", "qwen"))
	require.NoError(t, store.Set("vector.enabled", true))
	require.NoError(t, store.Set("transform.batch_size", int64(25)))

	assert.Equal(t, "qwen", store.GetString("classifier.model"))
	assert.True(t, store.GetBool("vector.enabled"))
	assert.Empty(t, store.GetString("transform.batch_size"), "not a string")
	assert.False(t, store.GetBool("classifier.model"), "not a bool")

	val, ok := store.Get("transform.batch_size")
	assert.True(t, ok)
	assert.Equal(t, int64(25), val)

	require.NoError(t, store.Unset("classifier.model"))
	_, ok = store.Get("classifier.model")
	assert.False(t, ok)
	assert.Equal(t, ":memory:", store.Path())
}
