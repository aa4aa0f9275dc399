// Package envelope implements the File Envelope Engine (C2): the ZKIM
// container's wire format, three-layer encrypt/decrypt over chunked and
// compressed content, and persistence through a blobstore.Store.
package envelope

import "github.com/cloud10922/zkim/internal/cryptokernel"

// Type tags carried in the header, per §6.
const (
	CompressionNone = byte(0)
	CompressionZstd = byte(1)

	EncryptionXChaCha20Poly1305 = byte(1)

	HashBlake2b256 = byte(1)

	SignatureNone = byte(0)
)

// Header is the ZKIM container header, bit-exact per §6.
type Header struct {
	Magic         [4]byte
	Version       uint16
	Flags         uint32
	PlatformKeyID string
	UserID        string
	FileID        string
	CreatedAt     uint64 // unix millis
	ChunkCount    uint32
	TotalSize     uint64
	CompType      byte
	EncType       byte
	HashType      byte
	SigType       byte
}

// Chunk is one ZkimFileChunk, per §3/§6.
type Chunk struct {
	Index          uint32
	ChunkSize      uint32 // plaintext size
	CompressedSize uint32
	EncryptedSize  uint32
	Nonce          [cryptokernel.NonceSize]byte
	EncryptedData  []byte
	IntegrityHash  [32]byte
	Padding        []byte
}

// Metadata is the ZkimFile metadata block, per §3.
type Metadata struct {
	FileName      string                 `json:"fileName"`
	UserID        string                 `json:"userId"`
	MimeType      string                 `json:"mimeType"`
	CreatedAt     uint64                 `json:"createdAt"`
	Tags          []string               `json:"tags,omitempty"`
	CustomFields  map[string]interface{} `json:"customFields,omitempty"`
	AccessControl *AccessControl         `json:"accessControl,omitempty"`
}

// AccessControl lists the user ids permitted to read a file in full.
type AccessControl struct {
	ReadAccess []string `json:"readAccess,omitempty"`
}

// ZkimFile is the full in-memory container.
type ZkimFile struct {
	Header  Header
	Chunks  []Chunk
	Metadata Metadata

	PlatformEncrypted []byte
	UserEncrypted     []byte
	ContentSignature  [64]byte
	PlatformSignature [64]byte
	UserSignature     [64]byte
}

// customFieldsContentKey is the well-known customFields key under which
// the base64-encoded content key is attached after encryption, per §4.2
// step 4 ("fast-path decryption by holders of userKey").
const customFieldsContentKey = "contentKey"
