package cryptokernel

import "context"

// KeyManager abstracts external Key Management Systems that wrap and
// unwrap the platform key layer's signing/encryption key. This lets the
// platform key itself live inside a KMS rather than in process memory.
//
// Implementations must never expose plaintext master keys outside the
// KMS boundary.
type KeyManager interface {
	// Provider returns a short identifier used for diagnostics and metadata.
	Provider() string

	// WrapKey encrypts the given plaintext key material and returns an
	// envelope suitable for persisting alongside file metadata.
	WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error)

	// UnwrapKey decrypts the ciphertext in envelope and returns the
	// plaintext key material.
	UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error)

	// ActiveKeyVersion returns the version identifier of the primary
	// wrapping key.
	ActiveKeyVersion(ctx context.Context) (int, error)

	// HealthCheck verifies the KMS is reachable without performing a real
	// wrap/unwrap.
	HealthCheck(ctx context.Context) error

	// Close releases underlying resources.
	Close(ctx context.Context) error
}

// KeyEnvelope captures what's needed to unwrap a wrapped key.
type KeyEnvelope struct {
	KeyID      string
	KeyVersion int
	Provider   string
	Ciphertext []byte
}

// LocalKeyManager is the default KeyManager: it performs no external
// wrapping and is used when no KMS is configured. WrapKey is the
// identity function; this exists so the rest of the kernel can always
// program against the KeyManager interface.
type LocalKeyManager struct{}

// NewLocalKeyManager returns a no-op KeyManager.
func NewLocalKeyManager() *LocalKeyManager { return &LocalKeyManager{} }

func (l *LocalKeyManager) Provider() string { return "local" }

func (l *LocalKeyManager) WrapKey(_ context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	return &KeyEnvelope{KeyID: "local", KeyVersion: 1, Provider: "local", Ciphertext: plaintext}, nil
}

func (l *LocalKeyManager) UnwrapKey(_ context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	return envelope.Ciphertext, nil
}

func (l *LocalKeyManager) ActiveKeyVersion(_ context.Context) (int, error) { return 1, nil }

func (l *LocalKeyManager) HealthCheck(_ context.Context) error { return nil }

func (l *LocalKeyManager) Close(_ context.Context) error { return nil }
