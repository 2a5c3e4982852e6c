// Package crypto implements the optional encryption applied to off-site
// backup bundles: chunked AES-256-GCM with a PBKDF2-derived key. The stream
// starts with a small header (magic, version, salt, base nonce); each 64KB
// chunk is sealed with a counter-derived nonce.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	nonceSize  = 12
	iterations = 100000
	chunkSize  = 64 * 1024

	magic   = "SPKT-ENC"
	version = 1
)

// Header carries the key-derivation salt and the base nonce for a stream.
type Header struct {
	Salt  []byte
	Nonce []byte
}

// HeaderSize is the encoded size of the stream header.
const HeaderSize = len(magic) + 1 + saltSize + nonceSize

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// chunkNonce derives the nonce for chunk n by folding the counter into the
// base nonce. Each chunk gets a unique nonce under one key.
func chunkNonce(base []byte, n uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-1-i] ^= byte(n >> (8 * i))
	}
	return nonce
}

// EncryptReader encrypts its source stream chunk by chunk.
type EncryptReader struct {
	source  io.Reader
	aead    cipher.AEAD
	nonce   []byte
	counter uint64
	buf     []byte
	pending []byte
	eof     bool
}

// NewEncryptReader wraps r with encryption under password. The returned
// header must be written ahead of the encrypted stream.
func NewEncryptReader(r io.Reader, password string) (*EncryptReader, *Header, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, nil, err
	}

	return &EncryptReader{
		source: r,
		aead:   aead,
		nonce:  nonce,
		buf:    make([]byte, chunkSize),
	}, &Header{Salt: salt, Nonce: nonce}, nil
}

// Read implements io.Reader.
func (er *EncryptReader) Read(p []byte) (int, error) {
	if len(er.pending) > 0 {
		n := copy(p, er.pending)
		er.pending = er.pending[n:]
		return n, nil
	}
	if er.eof {
		return 0, io.EOF
	}

	n, err := io.ReadFull(er.source, er.buf)
	if err == io.EOF {
		er.eof = true
		return 0, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	if err == io.ErrUnexpectedEOF {
		er.eof = true
	}

	er.pending = er.aead.Seal(nil, chunkNonce(er.nonce, er.counter), er.buf[:n], nil)
	er.counter++

	copied := copy(p, er.pending)
	er.pending = er.pending[copied:]
	return copied, nil
}

// DecryptReader decrypts a stream produced by EncryptReader.
type DecryptReader struct {
	source  io.Reader
	aead    cipher.AEAD
	nonce   []byte
	counter uint64
	buf     []byte
	pending []byte
	eof     bool
}

// NewDecryptReader wraps r with decryption under password using the stream
// header read beforehand.
func NewDecryptReader(r io.Reader, password string, header *Header) (*DecryptReader, error) {
	aead, err := newAEAD(password, header.Salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, len(header.Nonce))
	copy(nonce, header.Nonce)

	return &DecryptReader{
		source: r,
		aead:   aead,
		nonce:  nonce,
		buf:    make([]byte, chunkSize+aead.Overhead()),
	}, nil
}

// Read implements io.Reader.
func (dr *DecryptReader) Read(p []byte) (int, error) {
	if len(dr.pending) > 0 {
		n := copy(p, dr.pending)
		dr.pending = dr.pending[n:]
		return n, nil
	}
	if dr.eof {
		return 0, io.EOF
	}

	n, err := io.ReadFull(dr.source, dr.buf)
	if err == io.EOF {
		dr.eof = true
		return 0, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	if err == io.ErrUnexpectedEOF {
		dr.eof = true
	}

	plain, err := dr.aead.Open(nil, chunkNonce(dr.nonce, dr.counter), dr.buf[:n], nil)
	if err != nil {
		return 0, fmt.Errorf("decryption failed: %w", err)
	}
	dr.pending = plain
	dr.counter++

	copied := copy(p, dr.pending)
	dr.pending = dr.pending[copied:]
	return copied, nil
}

// WriteHeader encodes the stream header to w.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if _, err := w.Write([]byte{version}); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	if _, err := w.Write(header.Salt); err != nil {
		return fmt.Errorf("failed to write salt: %w", err)
	}
	if _, err := w.Write(header.Nonce); err != nil {
		return fmt.Errorf("failed to write nonce: %w", err)
	}
	return nil
}

// ReadHeader decodes a stream header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read magic bytes: %w", err)
	}
	if string(buf) != magic {
		return nil, fmt.Errorf("not an encrypted backup bundle")
	}

	ver := make([]byte, 1)
	if _, err := io.ReadFull(r, ver); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if ver[0] != version {
		return nil, fmt.Errorf("unsupported encryption version: %d", ver[0])
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	return &Header{Salt: salt, Nonce: nonce}, nil
}

// IsEncrypted reports whether data begins with the encryption magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= len(magic) && string(data[:len(magic)]) == magic
}

// gcmTagSize is the authentication tag GCM appends to every sealed chunk.
const gcmTagSize = 16

// EncryptedSize returns the exact length of the encrypted stream for a
// plaintext of the given size, header included. Chunk framing is fixed by
// EncryptReader: full chunks throughout, a short final chunk, no chunk at
// all for empty input.
func EncryptedSize(plain int64) int64 {
	size := int64(HeaderSize) + plain
	if plain > 0 {
		chunks := (plain + chunkSize - 1) / chunkSize
		size += chunks * gcmTagSize
	}
	return size
}
