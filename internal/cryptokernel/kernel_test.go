package cryptokernel

import (
	"testing"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKernel(t *testing.T, rotation bool) *Kernel {
	t.Helper()
	cfg := config.CryptoConfig{
		EnableKeyRotation:      rotation,
		EnableCompromiseDetect: true,
		CompromiseThreshold:    3,
	}
	return NewKernel(cfg, nil)
}

func TestEncryptThreeLayerRoundTrip(t *testing.T) {
	k := testKernel(t, true)

	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)
	plaintext := []byte("top secret file contents")
	fileID := "file-abc"
	metadata := map[string]interface{}{"owner": "alice"}

	result, err := k.EncryptThreeLayer(plaintext, platformKey, userKey, fileID, metadata, 1700000000)
	require.NoError(t, err)
	require.NotNil(t, result)

	contentKey, gotMetadata, err := k.DecryptUserLayer(result.UserEncrypted, result.Nonces[1], userKey, fileID)
	require.NoError(t, err)
	assert.Equal(t, result.ContentKey, contentKey)
	assert.Equal(t, "alice", gotMetadata["owner"])

	createdAt, err := k.VerifyPlatformLayer(result.PlatformEncrypted, result.Nonces[0], platformKey, fileID, result.UserEncrypted)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), createdAt)

	decrypted, err := k.DecryptContent(result.ContentEncrypted, result.Nonces[2], contentKey, fileID)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestVerifyPlatformLayerRejectsSwappedUserLayer(t *testing.T) {
	k := testKernel(t, false)
	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)

	resultA, err := k.EncryptThreeLayer([]byte("file a"), platformKey, userKey, "file-a", nil, 1)
	require.NoError(t, err)
	resultB, err := k.EncryptThreeLayer([]byte("file b"), platformKey, userKey, "file-a", nil, 1)
	require.NoError(t, err)

	_, err = k.VerifyPlatformLayer(resultA.PlatformEncrypted, resultA.Nonces[0], platformKey, "file-a", resultB.UserEncrypted)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestChunkNonceDeterministicPerIndex(t *testing.T) {
	n2, _ := RandBytes(NonceSize)
	a := ChunkNonce(n2, 0)
	b := ChunkNonce(n2, 0)
	c := ChunkNonce(n2, 1)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, NonceSize)
}

func TestRotateKeysDisabledByDefault(t *testing.T) {
	k := testKernel(t, false)
	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)
	_, err := k.EncryptThreeLayer([]byte("data"), platformKey, userKey, "file-1", nil, 1)
	require.NoError(t, err)

	_, err = k.RotateKeys("file-1")
	assert.ErrorIs(t, err, ErrKeyRotationDisabled)
}

func TestRotateKeysRequiresCachedContentKey(t *testing.T) {
	k := testKernel(t, true)
	_, err := k.RotateKeys("unknown-file")
	assert.ErrorIs(t, err, ErrContentKeyNotCached)
}

func TestRotateKeysProducesDifferentKey(t *testing.T) {
	k := testKernel(t, true)
	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)
	result, err := k.EncryptThreeLayer([]byte("data"), platformKey, userKey, "file-1", nil, 1)
	require.NoError(t, err)

	newKey, err := k.RotateKeys("file-1")
	require.NoError(t, err)
	assert.NotEqual(t, result.ContentKey, newKey)

	cached, ok := k.CachedContentKey("file-1")
	require.True(t, ok)
	assert.Equal(t, newKey, cached)
}

func TestIsCompromisedTracksFailureStreak(t *testing.T) {
	k := testKernel(t, false)
	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)
	_, err := k.EncryptThreeLayer([]byte("data"), platformKey, userKey, "file-1", nil, 1)
	require.NoError(t, err)

	badNonce, _ := RandBytes(NonceSize)
	for i := 0; i < 3; i++ {
		_, _, _ = k.DecryptUserLayer([]byte("garbage"), badNonce, userKey, "file-1")
	}
	assert.True(t, k.IsCompromised("file-1"))
}

func TestIsCompromisedDisabledByDefault(t *testing.T) {
	k := testKernel(t, false)
	k.enableCompromiseDetect = false
	assert.False(t, k.IsCompromised("anything"))
}

func TestEvictContentKeyAndEvictAll(t *testing.T) {
	k := testKernel(t, true)
	platformKey, _ := RandBytes(KeySize)
	userKey, _ := RandBytes(KeySize)
	_, err := k.EncryptThreeLayer([]byte("data"), platformKey, userKey, "file-1", nil, 1)
	require.NoError(t, err)

	k.EvictContentKey("file-1")
	_, ok := k.CachedContentKey("file-1")
	assert.False(t, ok)

	_, err = k.EncryptThreeLayer([]byte("data"), platformKey, userKey, "file-2", nil, 1)
	require.NoError(t, err)
	k.EvictAll()
	_, ok = k.CachedContentKey("file-2")
	assert.False(t, ok)
}

func TestGenerateSessionKeyDeterministic(t *testing.T) {
	k := testKernel(t, false)
	ephemeral, _ := RandBytes(KeySize)
	a, err := k.GenerateSessionKey("peer-1", ephemeral)
	require.NoError(t, err)
	b, err := k.GenerateSessionKey("peer-1", ephemeral)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := k.GenerateSessionKey("peer-2", ephemeral)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
