package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cloud10922/zkim/internal/cryptokernel"
)

var magicBytes = [4]byte{'Z', 'K', 'I', 'M'}

// ErrBadMagic is returned by Decode when the leading 4 bytes aren't "ZKIM".
var ErrBadMagic = fmt.Errorf("envelope: %w", cryptokernel.ErrDecryptionFailed)

// Encode serializes f to the bit-exact little-endian layout in §6.
func Encode(f *ZkimFile) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(magicBytes[:])
	writeU16(&buf, f.Header.Version)
	writeU32(&buf, f.Header.Flags)
	writeString(&buf, f.Header.PlatformKeyID)
	writeString(&buf, f.Header.UserID)
	writeString(&buf, f.Header.FileID)
	writeU64(&buf, f.Header.CreatedAt)
	writeU32(&buf, f.Header.ChunkCount)
	writeU64(&buf, f.Header.TotalSize)
	buf.WriteByte(f.Header.CompType)
	buf.WriteByte(f.Header.EncType)
	buf.WriteByte(f.Header.HashType)
	buf.WriteByte(f.Header.SigType)

	for _, c := range f.Chunks {
		writeU32(&buf, c.Index)
		writeU32(&buf, c.ChunkSize)
		writeU32(&buf, c.CompressedSize)
		writeU32(&buf, c.EncryptedSize)
		buf.Write(c.Nonce[:])
		buf.Write(c.EncryptedData)
		buf.Write(c.IntegrityHash[:])
		writeU16(&buf, uint16(len(c.Padding)))
		buf.Write(c.Padding)
	}

	metadataJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal metadata: %w", err)
	}

	writeBytes32(&buf, f.PlatformEncrypted)
	writeBytes32(&buf, f.UserEncrypted)
	writeBytes32(&buf, metadataJSON)
	buf.Write(f.PlatformSignature[:])
	buf.Write(f.UserSignature[:])
	buf.Write(f.ContentSignature[:])

	return buf.Bytes(), nil
}

// Decode parses the bit-exact layout produced by Encode.
func Decode(data []byte) (*ZkimFile, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil {
		return nil, fmt.Errorf("envelope: read magic: %w", err)
	}
	if magic != magicBytes {
		return nil, ErrBadMagic
	}

	f := &ZkimFile{}
	f.Header.Magic = magic
	var err error
	if f.Header.Version, err = readU16(r); err != nil {
		return nil, err
	}
	if f.Header.Flags, err = readU32(r); err != nil {
		return nil, err
	}
	if f.Header.PlatformKeyID, err = readString(r); err != nil {
		return nil, err
	}
	if f.Header.UserID, err = readString(r); err != nil {
		return nil, err
	}
	if f.Header.FileID, err = readString(r); err != nil {
		return nil, err
	}
	if f.Header.CreatedAt, err = readU64(r); err != nil {
		return nil, err
	}
	if f.Header.ChunkCount, err = readU32(r); err != nil {
		return nil, err
	}
	if f.Header.TotalSize, err = readU64(r); err != nil {
		return nil, err
	}
	if f.Header.CompType, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if f.Header.EncType, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if f.Header.HashType, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if f.Header.SigType, err = r.ReadByte(); err != nil {
		return nil, err
	}

	f.Chunks = make([]Chunk, 0, f.Header.ChunkCount)
	for i := uint32(0); i < f.Header.ChunkCount; i++ {
		var c Chunk
		if c.Index, err = readU32(r); err != nil {
			return nil, err
		}
		if c.ChunkSize, err = readU32(r); err != nil {
			return nil, err
		}
		if c.CompressedSize, err = readU32(r); err != nil {
			return nil, err
		}
		if c.EncryptedSize, err = readU32(r); err != nil {
			return nil, err
		}
		if _, err = readFull(r, c.Nonce[:]); err != nil {
			return nil, err
		}
		c.EncryptedData = make([]byte, c.EncryptedSize)
		if _, err = readFull(r, c.EncryptedData); err != nil {
			return nil, err
		}
		if _, err = readFull(r, c.IntegrityHash[:]); err != nil {
			return nil, err
		}
		paddingLen, err := readU16(r)
		if err != nil {
			return nil, err
		}
		c.Padding = make([]byte, paddingLen)
		if _, err = readFull(r, c.Padding); err != nil {
			return nil, err
		}
		f.Chunks = append(f.Chunks, c)
	}

	if f.PlatformEncrypted, err = readBytes32(r); err != nil {
		return nil, err
	}
	if f.UserEncrypted, err = readBytes32(r); err != nil {
		return nil, err
	}
	metadataJSON, err := readBytes32(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal metadata: %w", err)
	}

	if _, err = readFull(r, f.PlatformSignature[:]); err != nil {
		return nil, err
	}
	if _, err = readFull(r, f.UserSignature[:]); err != nil {
		return nil, err
	}
	if _, err = readFull(r, f.ContentSignature[:]); err != nil {
		return nil, err
	}

	return f, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU16(buf, uint16(len(s)))
	buf.WriteString(s)
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err != nil {
		return n, fmt.Errorf("envelope: truncated container: %w", err)
	}
	if n != len(b) {
		return n, fmt.Errorf("envelope: truncated container: expected %d bytes, got %d", len(b), n)
	}
	return n, nil
}
