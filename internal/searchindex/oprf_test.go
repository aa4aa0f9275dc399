package searchindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOPRFTrapdoorDeterministicForSameWord(t *testing.T) {
	o := newOPRF([]byte("a-32-byte-secret-key-material!!!"), true)

	a, err := o.trapdoor("invoice")
	require.NoError(t, err)
	b, err := o.trapdoor("invoice")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestOPRFTrapdoorDiffersByWord(t *testing.T) {
	o := newOPRF([]byte("a-32-byte-secret-key-material!!!"), true)

	a, err := o.trapdoor("invoice")
	require.NoError(t, err)
	b, err := o.trapdoor("receipt")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOPRFTrapdoorDiffersByKey(t *testing.T) {
	a, err := newOPRF([]byte("key-material-one-32-bytes-long!!"), true).trapdoor("invoice")
	require.NoError(t, err)
	b, err := newOPRF([]byte("key-material-two-32-bytes-long!!"), true).trapdoor("invoice")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOPRFFallbackIsDeterministicAndKeyed(t *testing.T) {
	o := newOPRF([]byte("fallback-secret-key-32-bytes!!!!"), false)

	a, err := o.trapdoor("invoice")
	require.NoError(t, err)
	b, err := o.trapdoor("invoice")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other := newOPRF([]byte("different-secret-key-32-bytes!!!"), false)
	c, err := other.trapdoor("invoice")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestOPRFEnabledAndFallbackDiffer(t *testing.T) {
	secret := []byte("shared-secret-key-material-32by!")
	withOPRF := newOPRF(secret, true)
	fallback := newOPRF(secret, false)

	a, err := withOPRF.trapdoor("invoice")
	require.NoError(t, err)
	b, err := fallback.trapdoor("invoice")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
