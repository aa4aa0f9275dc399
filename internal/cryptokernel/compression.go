package cryptokernel

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Metadata keys for recording whether/how a chunk was compressed. The
// envelope engine neither sets nor reads them; it treats a chunk as
// compressed when its CompressedSize differs from its ChunkSize.
const (
	MetaCompressionEnabled  = "x-zkim-compression-enabled"
	MetaCompressionOriginal = "x-zkim-compression-original-size"
)

// CompressionEngine compresses and decompresses plaintext before it
// reaches the AEAD layer. The default implementation uses zstd, matching
// the "zstd-like, configurable" compression named in §4.1.
type CompressionEngine interface {
	// ShouldCompress decides whether a chunk of the given size and MIME
	// type is worth compressing.
	ShouldCompress(size int64, contentType string) bool
	// Compress returns the compressed bytes, or the original bytes
	// unmodified (with ok=false) if compression didn't help.
	Compress(plaintext []byte) (out []byte, ok bool, err error)
	// Decompress reverses Compress.
	Decompress(compressed []byte) ([]byte, error)
}

type zstdEngine struct {
	enabled     bool
	minSize     int64
	mimePrefixes []string
	level       zstd.EncoderLevel

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewCompressionEngine builds a zstd-backed CompressionEngine. mimePrefixes
// lists the Content-Type prefixes worth compressing (binary/already
// compressed formats should be excluded by the caller).
func NewCompressionEngine(enabled bool, minSize int64, mimePrefixes []string, level int) CompressionEngine {
	lvl := zstd.EncoderLevelFromZstd(level)
	e := &zstdEngine{
		enabled:      enabled,
		minSize:      minSize,
		mimePrefixes: mimePrefixes,
		level:        lvl,
	}
	e.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(e.level))
		return enc
	}
	e.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return e
}

func (e *zstdEngine) ShouldCompress(size int64, contentType string) bool {
	if !e.enabled || size < e.minSize {
		return false
	}
	if len(e.mimePrefixes) == 0 {
		return true
	}
	for _, prefix := range e.mimePrefixes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}
	return false
}

func (e *zstdEngine) Compress(plaintext []byte) ([]byte, bool, error) {
	enc := e.encoderPool.Get().(*zstd.Encoder)
	defer e.encoderPool.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := enc.Write(plaintext); err != nil {
		return nil, false, fmt.Errorf("cryptokernel: zstd compress: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, fmt.Errorf("cryptokernel: zstd close: %w", err)
	}

	if buf.Len() >= len(plaintext) {
		return plaintext, false, nil
	}
	return buf.Bytes(), true, nil
}

func (e *zstdEngine) Decompress(compressed []byte) ([]byte, error) {
	dec := e.decoderPool.Get().(*zstd.Decoder)
	defer e.decoderPool.Put(dec)

	if err := dec.Reset(bytes.NewReader(compressed)); err != nil {
		return nil, fmt.Errorf("cryptokernel: zstd reader reset: %w", err)
	}
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("cryptokernel: zstd decompress: %w", err)
	}
	return out, nil
}
