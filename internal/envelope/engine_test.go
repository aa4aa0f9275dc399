package envelope

import (
	"context"
	"testing"

	"github.com/cloud10922/zkim/internal/blobstore"
	"github.com/cloud10922/zkim/internal/config"
	"github.com/cloud10922/zkim/internal/cryptokernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, chunkSize int) (*Engine, *blobstore.MemoryStore) {
	t.Helper()
	kernel := cryptokernel.NewKernel(config.CryptoConfig{}, nil)
	compression := cryptokernel.NewCompressionEngine(true, 0, nil, 3)
	store := blobstore.NewMemoryStore()
	return NewEngine(kernel, compression, store, chunkSize, nil), store
}

func TestCreateAndDecryptZkimFileRoundTrip(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	content := []byte("Hello, World!")

	file, fileID, err := engine.CreateZkimFile(ctx, content, "user-1", "platform-key-1", platformKey, userKey, Metadata{
		FileName: "hello.txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	assert.Equal(t, "ZKIM", string(file.Header.Magic[:]))
	assert.Len(t, file.Chunks, 1)
	assert.Equal(t, fileID, file.Header.FileID)

	decrypted, err := engine.DecryptZkimFile(file, "user-1", userKey)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestCreateZkimFileLargeContentProducesMultipleChunks(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	content := make([]byte, 600*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}

	file, _, err := engine.CreateZkimFile(ctx, content, "user-1", "platform-key-1", platformKey, userKey, Metadata{FileName: "big.bin"})
	require.NoError(t, err)
	assert.Greater(t, len(file.Chunks), 1)

	decrypted, err := engine.DecryptZkimFile(file, "user-1", userKey)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecryptZkimFileWithoutContentKeyFastPath(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	content := []byte("recover via user layer, not the fast path")

	file, _, err := engine.CreateZkimFile(ctx, content, "user-1", "platform-key-1", platformKey, userKey, Metadata{FileName: "f.txt"})
	require.NoError(t, err)

	delete(file.Metadata.CustomFields, customFieldsContentKey)

	decrypted, err := engine.DecryptZkimFile(file, "user-1", userKey)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecryptZkimFileWrongUserKeyFails(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	wrongKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)

	file, _, err := engine.CreateZkimFile(ctx, []byte("secret"), "user-1", "platform-key-1", platformKey, userKey, Metadata{})
	require.NoError(t, err)
	delete(file.Metadata.CustomFields, customFieldsContentKey)

	_, err = engine.DecryptZkimFile(file, "user-1", wrongKey)
	assert.Error(t, err)
}

func TestDecryptZkimFileRejectsTamperedChunk(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)

	file, _, err := engine.CreateZkimFile(ctx, []byte("tamper me"), "user-1", "platform-key-1", platformKey, userKey, Metadata{})
	require.NoError(t, err)

	file.Chunks[0].EncryptedData[0] ^= 0xFF

	_, err = engine.DecryptZkimFile(file, "user-1", userKey)
	assert.ErrorIs(t, err, ErrIntegrityMismatch)
}

func TestGetZkimFileRoundTripsThroughStore(t *testing.T) {
	engine, store := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)

	_, fileID, err := engine.CreateZkimFile(ctx, []byte("persisted"), "user-1", "platform-key-1", platformKey, userKey, Metadata{})
	require.NoError(t, err)

	fetched, err := engine.GetZkimFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, fileID, fetched.Header.FileID)

	decrypted, err := engine.DecryptZkimFile(fetched, "user-1", userKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), decrypted)

	_ = store // silence unused if store access is extended later
}

func TestGetZkimFileMissingReturnsNotFound(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	_, err := engine.GetZkimFile(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyPlatformLayerDetectsBinding(t *testing.T) {
	engine, _ := testEngine(t, cryptokernel.DefaultChunkSize)
	ctx := context.Background()

	platformKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)
	userKey, _ := cryptokernel.RandBytes(cryptokernel.KeySize)

	file, _, err := engine.CreateZkimFile(ctx, []byte("bound content"), "user-1", "platform-key-1", platformKey, userKey, Metadata{})
	require.NoError(t, err)

	createdAt, err := engine.VerifyPlatformLayer(file, platformKey)
	require.NoError(t, err)
	assert.Equal(t, int64(file.Header.CreatedAt), createdAt)
}
