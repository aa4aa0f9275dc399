package envelope

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cloud10922/zkim/internal/blobstore"
	"github.com/cloud10922/zkim/internal/cryptokernel"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Engine is the File Envelope Engine (C2). It owns no key material; the
// Crypto Kernel does the cryptography, the Engine chunks/compresses
// content around it and serializes the result through Store.
type Engine struct {
	kernel      *cryptokernel.Kernel
	compression cryptokernel.CompressionEngine
	store       blobstore.Store
	chunkSize   int
	parallelism int
	bufferPool  *cryptokernel.BufferPool
	log         *logrus.Entry
}

// NewEngine builds an Engine. store may be nil, in which case Create
// still produces a ZkimFile but persistence is skipped (caller owns it).
func NewEngine(kernel *cryptokernel.Kernel, compression cryptokernel.CompressionEngine, store blobstore.Store, chunkSize int, log *logrus.Entry) *Engine {
	if chunkSize <= 0 {
		chunkSize = cryptokernel.DefaultChunkSize
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		kernel:      kernel,
		compression: compression,
		store:       store,
		chunkSize:   chunkSize,
		parallelism: runtime.NumCPU(),
		bufferPool:  cryptokernel.NewBufferPool(chunkSize),
		log:         log.WithField("component", "envelope"),
	}
}

// CreateZkimFile implements §4.2: it chunks, compresses, and AEAD-encrypts
// content under a freshly generated content key, wraps that key through
// the three-layer scheme, and persists the serialized envelope via the
// configured blob store (if any).
func (e *Engine) CreateZkimFile(ctx context.Context, content []byte, userID, platformKeyID string, platformKey, userKey []byte, meta Metadata) (*ZkimFile, string, error) {
	fileID := uuid.NewString()
	createdAt := uint64(time.Now().UnixMilli())

	sideResult, err := e.kernel.EncryptThreeLayer(nil, platformKey, userKey, fileID, nil, int64(createdAt))
	if err != nil {
		return nil, "", fmt.Errorf("envelope: wrap content key: %w", err)
	}
	contentKey := sideResult.ContentKey
	n2 := sideResult.Nonces[2]

	chunks, totalSize, err := e.encryptChunks(ctx, content, contentKey, n2, fileID, meta.MimeType)
	if err != nil {
		return nil, "", err
	}

	if meta.CustomFields == nil {
		meta.CustomFields = make(map[string]interface{})
	}
	meta.CustomFields[customFieldsContentKey] = encodeBase64(contentKey)
	meta.UserID = userID
	meta.CreatedAt = createdAt

	file := &ZkimFile{
		Header: Header{
			Magic:         magicBytes,
			Version:       1,
			PlatformKeyID: platformKeyID,
			UserID:        userID,
			FileID:        fileID,
			CreatedAt:     createdAt,
			ChunkCount:    uint32(len(chunks)),
			TotalSize:     totalSize,
			CompType:      compTypeFor(e.compression),
			EncType:       EncryptionXChaCha20Poly1305,
			HashType:      HashBlake2b256,
			SigType:       SignatureNone,
		},
		Chunks:            chunks,
		Metadata:          meta,
		PlatformEncrypted: prependNonce(sideResult.Nonces[0], sideResult.PlatformEncrypted),
		UserEncrypted:     prependNonce(sideResult.Nonces[1], sideResult.UserEncrypted),
	}

	if e.store != nil {
		raw, err := Encode(file)
		if err != nil {
			return nil, "", fmt.Errorf("envelope: encode: %w", err)
		}
		if err := e.store.Put(ctx, fileID, raw); err != nil {
			return nil, "", fmt.Errorf("envelope: persist: %w", err)
		}
	}

	return file, fileID, nil
}

// GetZkimFile fetches and decodes the container stored under objectId.
func (e *Engine) GetZkimFile(ctx context.Context, objectID string) (*ZkimFile, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	raw, err := e.store.Get(ctx, objectID)
	if err != nil {
		if err == blobstore.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("envelope: fetch %s: %w", objectID, err)
	}
	file, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return file, nil
}

// DecryptZkimFile implements §4.2: it recovers the content key (fast
// path via metadata.customFields.contentKey, else the user layer), then
// decrypts and decompresses every chunk in order and verifies the
// reassembled size matches header.totalSize.
func (e *Engine) DecryptZkimFile(file *ZkimFile, userID string, userKey []byte) ([]byte, error) {
	contentKey, err := e.recoverContentKey(file, userKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := e.decryptChunks(file, contentKey)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, c := range file.Chunks {
		total += uint64(c.ChunkSize)
	}
	if total != file.Header.TotalSize {
		return nil, fmt.Errorf("%w: header says %d, chunks sum to %d", ErrSizeMismatch, file.Header.TotalSize, total)
	}

	return plaintext, nil
}

// VerifyPlatformLayer checks the platform layer's binding to the user
// layer actually present in file, returning the creation time recorded
// at encryption. Exposed for callers that want platform-level tamper
// evidence independent of a successful content decrypt.
func (e *Engine) VerifyPlatformLayer(file *ZkimFile, platformKey []byte) (int64, error) {
	n0, platformCiphertext, err := splitNonce(file.PlatformEncrypted)
	if err != nil {
		return 0, err
	}
	_, userCiphertext, err := splitNonce(file.UserEncrypted)
	if err != nil {
		return 0, err
	}
	return e.kernel.VerifyPlatformLayer(platformCiphertext, n0, platformKey, file.Header.FileID, userCiphertext)
}

func (e *Engine) recoverContentKey(file *ZkimFile, userKey []byte) ([]byte, error) {
	if raw, ok := file.Metadata.CustomFields[customFieldsContentKey]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return decodeBase64(s)
		}
	}

	n1, userCiphertext, err := splitNonce(file.UserEncrypted)
	if err != nil {
		return nil, err
	}
	contentKey, _, err := e.kernel.DecryptUserLayer(userCiphertext, n1, userKey, file.Header.FileID)
	if err != nil {
		return nil, err
	}
	return contentKey, nil
}

type chunkJob struct {
	index int
	data  []byte
}

type chunkOutcome struct {
	index int
	chunk Chunk
	err   error
}

// encryptChunks splits content into fixed-size chunks and processes them
// concurrently across a bounded worker pool, matching the envelope
// engine's concurrency model: independently decryptable chunks, safely
// producible out of order and reassembled by index.
func (e *Engine) encryptChunks(ctx context.Context, content []byte, contentKey, n2 []byte, fileID, mimeType string) ([]Chunk, uint64, error) {
	if len(content) == 0 {
		return []Chunk{}, 0, nil
	}

	jobs := splitChunks(content, e.chunkSize)
	outcomes := make([]chunkOutcome, len(jobs))

	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job chunkJob) {
			defer wg.Done()
			defer func() { <-sem }()

			chunk, err := e.encryptOneChunk(job, contentKey, n2, fileID, mimeType)
			outcomes[job.index] = chunkOutcome{index: job.index, chunk: chunk, err: err}
		}(job)
	}
	wg.Wait()

	chunks := make([]Chunk, len(outcomes))
	var total uint64
	for _, o := range outcomes {
		if o.err != nil {
			return nil, 0, o.err
		}
		chunks[o.index] = o.chunk
		total += uint64(o.chunk.ChunkSize)
	}
	return chunks, total, nil
}

func (e *Engine) encryptOneChunk(job chunkJob, contentKey, n2 []byte, fileID, mimeType string) (Chunk, error) {
	plaintext := job.data
	toEncrypt := plaintext
	compressedSize := uint32(len(plaintext))

	if e.compression != nil && e.compression.ShouldCompress(int64(len(plaintext)), mimeType) {
		if compressed, ok, err := e.compression.Compress(plaintext); err != nil {
			return Chunk{}, fmt.Errorf("envelope: compress chunk %d: %w", job.index, err)
		} else if ok {
			toEncrypt = compressed
			compressedSize = uint32(len(compressed))
		}
	}

	nonce := cryptokernel.ChunkNonce(n2, uint32(job.index))
	encrypted, err := cryptokernel.AEADEncrypt(contentKey, nonce, toEncrypt, []byte(fileID))
	if err != nil {
		return Chunk{}, fmt.Errorf("envelope: encrypt chunk %d: %w", job.index, err)
	}
	integrityHash := cryptokernel.Hash32(encrypted)

	var nonceArr [cryptokernel.NonceSize]byte
	copy(nonceArr[:], nonce)

	return Chunk{
		Index:          uint32(job.index),
		ChunkSize:      uint32(len(plaintext)),
		CompressedSize: compressedSize,
		EncryptedSize:  uint32(len(encrypted)),
		Nonce:          nonceArr,
		EncryptedData:  encrypted,
		IntegrityHash:  integrityHash,
	}, nil
}

func (e *Engine) decryptChunks(file *ZkimFile, contentKey []byte) ([]byte, error) {
	plaintexts := make([][]byte, len(file.Chunks))
	releases := make([]func(), len(file.Chunks))
	errs := make([]error, len(file.Chunks))

	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup
	for i, c := range file.Chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c Chunk) {
			defer wg.Done()
			defer func() { <-sem }()
			plaintexts[i], releases[i], errs[i] = e.decryptOneChunk(c, contentKey, file.Header.FileID)
		}(i, c)
	}
	wg.Wait()

	var out []byte
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
		out = append(out, plaintexts[i]...)
		if releases[i] != nil {
			releases[i]()
		}
	}
	return out, nil
}

// decryptOneChunk verifies and opens a single chunk. The AEAD-open
// destination is drawn from e.bufferPool rather than freshly allocated,
// since the opened plaintext is only needed transiently here (it is
// copied into decryptChunks' reassembly buffer and then discarded): when
// the returned release func is non-nil, the caller must call it once it
// is done reading plaintext, to return the buffer to the pool. The
// ciphertext side has no equivalent pooling opportunity: ZkimFile.Chunks
// retains each chunk's EncryptedData for the lifetime of the file, so
// that buffer can never be returned to the pool while the file is live.
func (e *Engine) decryptOneChunk(c Chunk, contentKey []byte, fileID string) (plaintext []byte, release func(), err error) {
	gotHash := cryptokernel.Hash32(c.EncryptedData)
	if !cryptokernel.ConstantTimeEqual(gotHash[:], c.IntegrityHash[:]) {
		return nil, nil, fmt.Errorf("%w: chunk %d", ErrIntegrityMismatch, c.Index)
	}

	dst := e.bufferPool.Get(len(c.EncryptedData))
	decrypted, err := cryptokernel.AEADDecryptInto(dst[:0], contentKey, c.Nonce[:], c.EncryptedData, []byte(fileID))
	if err != nil {
		e.bufferPool.Put(dst)
		return nil, nil, fmt.Errorf("%w: chunk %d: %v", ErrIntegrityMismatch, c.Index, err)
	}

	if c.CompressedSize == c.ChunkSize {
		return decrypted, func() { e.bufferPool.Put(dst) }, nil
	}
	if e.compression == nil {
		e.bufferPool.Put(dst)
		return nil, nil, fmt.Errorf("%w: chunk %d is compressed but no compression engine configured", ErrCorruption, c.Index)
	}
	out, decompErr := e.compression.Decompress(decrypted)
	e.bufferPool.Put(dst)
	if decompErr != nil {
		return nil, nil, fmt.Errorf("%w: chunk %d: %v", ErrCorruption, c.Index, decompErr)
	}
	return out, nil, nil
}

func splitChunks(content []byte, chunkSize int) []chunkJob {
	jobs := make([]chunkJob, 0, (len(content)+chunkSize-1)/chunkSize)
	for i, offset := 0, 0; offset < len(content); i, offset = i+1, offset+chunkSize {
		end := offset + chunkSize
		if end > len(content) {
			end = len(content)
		}
		jobs = append(jobs, chunkJob{index: i, data: content[offset:end]})
	}
	return jobs
}

func compTypeFor(engine cryptokernel.CompressionEngine) byte {
	if engine == nil {
		return CompressionNone
	}
	return CompressionZstd
}

func prependNonce(nonce, ciphertext []byte) []byte {
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	return append(out, ciphertext...)
}

func splitNonce(data []byte) (nonce, rest []byte, err error) {
	if len(data) < cryptokernel.NonceSize {
		return nil, nil, fmt.Errorf("envelope: layer ciphertext shorter than nonce")
	}
	return data[:cryptokernel.NonceSize], data[cryptokernel.NonceSize:], nil
}
