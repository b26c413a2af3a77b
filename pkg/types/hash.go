package types

import (
	"encoding/binary"
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Hash32 is the canonical 32-byte content-addressed identifier used for
// block ids, QC ids and substate addresses. Hex is the canonical string
// form for every Hash32 on the wire and in logs.
type Hash32 [32]byte

// ZeroHash32 is the all-zero identifier used by a zero QC at epoch start.
var ZeroHash32 Hash32

// IsZero reports whether h is the all-zero hash.
func (h Hash32) IsZero() bool { return h == ZeroHash32 }

// String returns the lowercase hex encoding of h.
func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns a copy of the underlying 32 bytes.
func (h Hash32) Bytes() []byte {
	b := make([]byte, 32)
	copy(b, h[:])
	return b
}

// Hash32FromHex decodes a hex string into a Hash32.
func Hash32FromHex(s string) (Hash32, error) {
	var h Hash32
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, errInvalidHashLength(len(b))
	}
	copy(h[:], b)
	return h, nil
}

type errInvalidHashLength int

func (e errInvalidHashLength) Error() string {
	return "hash must be 32 bytes, got " + itoa(int(e))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// HashEncoder builds a deterministic byte stream for content-addressed
// hashing. Bytes and String fields are appended length-prefixed and
// Uint64/Bool fields at a fixed width, so a given sequence of field kinds
// encodes unambiguously; sequences of different field kinds can produce
// the same byte stream.
type HashEncoder struct {
	buf []byte
}

// NewHashEncoder returns an empty encoder.
func NewHashEncoder() *HashEncoder {
	return &HashEncoder{buf: make([]byte, 0, 256)}
}

func (e *HashEncoder) Bytes(b []byte) *HashEncoder {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, b...)
	return e
}

func (e *HashEncoder) String(s string) *HashEncoder {
	return e.Bytes([]byte(s))
}

func (e *HashEncoder) Uint64(v uint64) *HashEncoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *HashEncoder) Bool(v bool) *HashEncoder {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return e
}

// Finalize hashes the accumulated byte stream with Keccak256, the content
// hash used for every block and QC id in the core.
func (e *HashEncoder) Finalize() Hash32 {
	digest := ethcrypto.Keccak256(e.buf)
	var h Hash32
	copy(h[:], digest)
	return h
}
