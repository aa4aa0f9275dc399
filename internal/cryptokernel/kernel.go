package cryptokernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/sirupsen/logrus"
)

// ErrKeyRotationDisabled is returned by RotateKeys when key rotation is
// not enabled in configuration.
var ErrKeyRotationDisabled = errors.New("cryptokernel: key rotation disabled")

// ErrContentKeyNotCached is returned when RotateKeys is asked to rotate a
// file whose content key isn't (or is no longer) held in the cache.
var ErrContentKeyNotCached = errors.New("cryptokernel: content key not cached")

// userPayload is the plaintext wrapped by the user-layer AEAD (§4.1 step 3).
type userPayload struct {
	FileID     string                 `json:"fileId"`
	ContentKey []byte                 `json:"contentKey"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// platformPayload is the plaintext wrapped by the platform-layer AEAD
// (§4.1 step 4): a commitment to the user layer plus the creation time.
type platformPayload struct {
	FileID          string `json:"fileId"`
	UserEncryptedH32 []byte `json:"userEncryptedHash"`
	CreatedAt       int64  `json:"createdAt"`
}

// ThreeLayerResult is the output of EncryptThreeLayer.
type ThreeLayerResult struct {
	PlatformEncrypted []byte
	UserEncrypted     []byte
	ContentEncrypted  []byte
	ContentKey        []byte
	Nonces            [3][]byte // N0 (platform), N1 (user), N2 (content)
}

// Kernel is the Crypto Kernel (C1). It is safe for concurrent use.
type Kernel struct {
	mu            sync.RWMutex
	contentKeys   map[string][]byte // fileId -> contentKey, exclusively owned here
	failureStreak map[string]int

	enableKeyRotation      bool
	enableCompromiseDetect bool
	compromiseThreshold    int

	log *logrus.Entry
}

// NewKernel constructs a Crypto Kernel from configuration.
func NewKernel(cfg config.CryptoConfig, log *logrus.Entry) *Kernel {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Kernel{
		contentKeys:            make(map[string][]byte),
		failureStreak:          make(map[string]int),
		enableKeyRotation:      cfg.EnableKeyRotation,
		enableCompromiseDetect: cfg.EnableCompromiseDetect,
		compromiseThreshold:    cfg.CompromiseThreshold,
		log:                    log.WithField("component", "cryptokernel"),
	}
}

// EncryptThreeLayer implements §4.1: it generates a fresh content key and
// three independent nonces, encrypts plaintext under the content key,
// wraps the content key (plus metadata) under the user key, and binds a
// hash of the user layer under the platform key.
func (k *Kernel) EncryptThreeLayer(plaintext, platformKey, userKey []byte, fileID string, metadata map[string]interface{}, createdAt int64) (*ThreeLayerResult, error) {
	contentKey, err := RandBytes(KeySize)
	if err != nil {
		return nil, err
	}
	n0, err := RandBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	n1, err := RandBytes(NonceSize)
	if err != nil {
		return nil, err
	}
	n2, err := RandBytes(NonceSize)
	if err != nil {
		return nil, err
	}

	aad := []byte(fileID)

	contentEncrypted, err := AEADEncrypt(contentKey, n2, plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: content layer: %w", err)
	}

	up := userPayload{FileID: fileID, ContentKey: contentKey, Metadata: metadata}
	upBytes, err := json.Marshal(up)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: marshal user payload: %w", err)
	}
	userEncrypted, err := AEADEncrypt(userKey, n1, upBytes, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: user layer: %w", err)
	}

	userHash := Hash32(userEncrypted)
	pp := platformPayload{FileID: fileID, UserEncryptedH32: userHash[:], CreatedAt: createdAt}
	ppBytes, err := json.Marshal(pp)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: marshal platform payload: %w", err)
	}
	platformEncrypted, err := AEADEncrypt(platformKey, n0, ppBytes, aad)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: platform layer: %w", err)
	}

	k.mu.Lock()
	k.contentKeys[fileID] = contentKey
	k.mu.Unlock()

	return &ThreeLayerResult{
		PlatformEncrypted: platformEncrypted,
		UserEncrypted:     userEncrypted,
		ContentEncrypted:  contentEncrypted,
		ContentKey:        contentKey,
		Nonces:            [3][]byte{n0, n1, n2},
	}, nil
}

// DecryptUserLayer recovers the content key and metadata wrapped in the
// user layer. Failing AEAD verification is recorded against the file's
// failure streak and returns ErrDecryptionFailed.
func (k *Kernel) DecryptUserLayer(userEncrypted, nonce, userKey []byte, fileID string) (contentKey []byte, metadata map[string]interface{}, err error) {
	plaintext, err := AEADDecrypt(userKey, nonce, userEncrypted, []byte(fileID))
	if err != nil {
		k.recordFailure(fileID)
		return nil, nil, err
	}
	var up userPayload
	if jsonErr := json.Unmarshal(plaintext, &up); jsonErr != nil {
		return nil, nil, fmt.Errorf("cryptokernel: decode user payload: %w", jsonErr)
	}
	k.resetFailure(fileID)
	k.mu.Lock()
	k.contentKeys[fileID] = up.ContentKey
	k.mu.Unlock()
	return up.ContentKey, up.Metadata, nil
}

// VerifyPlatformLayer decrypts the platform layer and checks that its
// bound hash matches the user layer actually present in the envelope.
func (k *Kernel) VerifyPlatformLayer(platformEncrypted, nonce, platformKey []byte, fileID string, userEncrypted []byte) (createdAt int64, err error) {
	plaintext, err := AEADDecrypt(platformKey, nonce, platformEncrypted, []byte(fileID))
	if err != nil {
		k.recordFailure(fileID)
		return 0, err
	}
	var pp platformPayload
	if jsonErr := json.Unmarshal(plaintext, &pp); jsonErr != nil {
		return 0, fmt.Errorf("cryptokernel: decode platform payload: %w", jsonErr)
	}
	gotHash := Hash32(userEncrypted)
	if !ConstantTimeEqual(pp.UserEncryptedH32, gotHash[:]) {
		k.recordFailure(fileID)
		return 0, ErrDecryptionFailed
	}
	k.resetFailure(fileID)
	return pp.CreatedAt, nil
}

// DecryptContent decrypts the content layer given a content key (whether
// recovered via DecryptUserLayer or supplied out-of-band via
// metadata.customFields.contentKey, per §4.1).
func (k *Kernel) DecryptContent(contentEncrypted, nonce, contentKey []byte, fileID string) ([]byte, error) {
	plaintext, err := AEADDecrypt(contentKey, nonce, contentEncrypted, []byte(fileID))
	if err != nil {
		k.recordFailure(fileID)
		return nil, err
	}
	k.resetFailure(fileID)
	return plaintext, nil
}

// ChunkNonce derives the nonce for chunk index i from the content nonce N2,
// per §4.1: hash32(N2 ‖ chunkIndex)[..24].
func ChunkNonce(n2 []byte, index uint32) []byte {
	idx := []byte{byte(index >> 24), byte(index >> 16), byte(index >> 8), byte(index)}
	h := Hash32(n2, idx)
	return h[:NonceSize]
}

// RotateKeys derives a replacement content key from the cached one. The
// caller is responsible for re-encrypting chunks under the new key; the
// kernel only manages the cache entry.
func (k *Kernel) RotateKeys(fileID string) ([]byte, error) {
	if !k.enableKeyRotation {
		return nil, ErrKeyRotationDisabled
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	oldKey, ok := k.contentKeys[fileID]
	if !ok {
		return nil, ErrContentKeyNotCached
	}
	newKey, err := KDF(oldKey, []byte("rotate"), []byte(fileID), KeySize)
	if err != nil {
		return nil, err
	}
	k.contentKeys[fileID] = newKey
	return newKey, nil
}

// GenerateSessionKey derives an ephemeral session key for peerId.
func (k *Kernel) GenerateSessionKey(peerID string, ephemeralKey []byte) ([]byte, error) {
	return KDF(ephemeralKey, []byte("session"), []byte(peerID), KeySize)
}

// CachedContentKey returns the content key cached for fileID, if any.
func (k *Kernel) CachedContentKey(fileID string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.contentKeys[fileID]
	return key, ok
}

// EvictContentKey removes a cached content key, e.g. on service cleanup.
func (k *Kernel) EvictContentKey(fileID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.contentKeys, fileID)
}

// EvictAll clears the entire content-key cache.
func (k *Kernel) EvictAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.contentKeys = make(map[string][]byte)
	k.failureStreak = make(map[string]int)
}

func (k *Kernel) recordFailure(fileID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failureStreak[fileID]++
	k.log.WithField("fileId", fileID).Debug("recorded decryption failure")
}

func (k *Kernel) resetFailure(fileID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.failureStreak, fileID)
}

// IsCompromised reports whether fileID has accumulated a decryption
// failure streak at or above the configured threshold. Disabled by
// default (§4.1 "Compromise detection").
func (k *Kernel) IsCompromised(fileID string) bool {
	if !k.enableCompromiseDetect {
		return false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.failureStreak[fileID] >= k.compromiseThreshold
}
