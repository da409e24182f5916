// Package signature builds and serializes block signatures for the delta
// engine: a rolling weak checksum paired with a strong Blake2b hash per
// fixed-size window of a file, enough for pkg/delta to find which blocks
// of a new version already exist in the old one.
package signature

import (
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/record"
)

// DefaultWindow is the block size used when a caller does not pick one.
const DefaultWindow = 4096

const (
	tagWindow = 0x01
	tagChunk  = 0x02
)

// StrongSize is the length in bytes of the strong hash (Blake2b-256).
const StrongSize = 32

// Chunk is one block's pair of weak and strong hashes, plus the byte
// offset in the source file at which the block begins.
type Chunk struct {
	Weak   uint32
	Strong [StrongSize]byte
	Offset uint64
}

// Signature is the full per-block hash table of a source file, keyed by
// weak checksum so the delta engine can probe the rolling window against
// this map in O(1) before confirming with the strong hash.
type Signature struct {
	Window uint32
	Chunks map[uint32][]Chunk
}

// New creates an empty signature for the given window size.
func New(window uint32) *Signature {
	if window == 0 {
		window = DefaultWindow
	}
	return &Signature{Window: window, Chunks: make(map[uint32][]Chunk)}
}

// Lookup returns the chunks whose weak checksum matches weak.
func (s *Signature) Lookup(weak uint32) []Chunk {
	return s.Chunks[weak]
}

// Build reads r to EOF in Window-sized blocks (the final block may be
// short) and returns the resulting Signature.
func Build(r io.Reader, window uint32) (*Signature, error) {
	if window == 0 {
		window = DefaultWindow
	}
	sig := New(window)
	buf := make([]byte, window)
	var offset uint64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			block := buf[:n]
			weak := WeakChecksum(block)
			strong := blake2b.Sum256(block)
			sig.Chunks[weak] = append(sig.Chunks[weak], Chunk{
				Weak:   weak,
				Strong: strong,
				Offset: offset,
			})
			offset += uint64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read source block for signature")
		}
	}
	return sig, nil
}

// Serialize writes the signature to w using the record codec: one WINDOW
// field followed by one CHUNK field per block (weak + strong + offset).
func Serialize(w io.Writer, sig *Signature) error {
	rw := record.NewWriter(w)
	if err := rw.WriteU64(tagWindow, uint64(sig.Window)); err != nil {
		return err
	}
	for _, chunks := range sig.Chunks {
		for _, c := range chunks {
			payload := make([]byte, 4+StrongSize+8)
			putU32(payload[0:4], c.Weak)
			copy(payload[4:4+StrongSize], c.Strong[:])
			putU64(payload[4+StrongSize:], c.Offset)
			if err := rw.WriteSlice(tagChunk, payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deserialize reads a signature previously written by Serialize.
func Deserialize(r io.Reader) (*Signature, error) {
	rr := record.NewReader(r)
	tag, windowVal, err := rr.ReadFieldUsize()
	if err != nil {
		return nil, errors.Wrap(err, "read signature window")
	}
	if tag != tagWindow {
		return nil, errors.Protocolf("expected window field, got %s", record.String(tag))
	}
	sig := New(uint32(windowVal))
	for {
		tag, payload, err := rr.ReadFieldSlice()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read signature chunk")
		}
		if tag != tagChunk {
			return nil, errors.Protocolf("expected chunk field, got %s", record.String(tag))
		}
		if len(payload) != 4+StrongSize+8 {
			return nil, errors.Truncatedf("chunk payload: got %d bytes", len(payload))
		}
		var c Chunk
		c.Weak = getU32(payload[0:4])
		copy(c.Strong[:], payload[4:4+StrongSize])
		c.Offset = getU64(payload[4+StrongSize:])
		sig.Chunks[c.Weak] = append(sig.Chunks[c.Weak], c)
	}
	return sig, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
