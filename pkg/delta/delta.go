// Package delta implements the block-reference-or-literal delta program:
// Encode compares a signature of an old file against a stream of the new
// file and emits a compact program; Restore replays that program against
// the old file to reconstruct the new one byte-for-byte.
package delta

import (
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/record"
	"github.com/jianglibo/bkoverssh/pkg/signature"
)

const (
	tagWindow     = 0x00
	tagLiteral    = 0x01
	tagFromSource = 0x02
)

// DefaultSpillThreshold is the literal run length above which a literal
// is streamed through a temp file instead of being held in memory.
const DefaultSpillThreshold = 1 << 20 // 1 MiB

// Op is one instruction of a delta program.
type Op struct {
	// FromSource is true when this op copies a block from the old file;
	// false when it carries literal bytes directly.
	FromSource bool
	Offset     uint64 // valid when FromSource
	Literal    []byte // valid when !FromSource
}

// Program is a decoded, in-memory delta: a window size plus its ops.
// Encode and Restore stream their ops and never build a Program.
type Program struct {
	Window uint32
	Ops    []Op
}

// Options tunes delta generation.
type Options struct {
	// SpillThreshold is the literal run length above which bytes are
	// staged to a temp file rather than buffered. Zero selects
	// DefaultSpillThreshold.
	SpillThreshold int
}

func (o Options) spillThreshold() int {
	if o.SpillThreshold <= 0 {
		return DefaultSpillThreshold
	}
	return o.SpillThreshold
}

// Encode compares sig against the new stream and writes a delta program
// to w using the record codec.
func Encode(w io.Writer, sig *signature.Signature, newStream io.Reader, opts Options) error {
	rw := record.NewWriter(w)
	if err := rw.WriteU64(tagWindow, uint64(sig.Window)); err != nil {
		return err
	}

	window := int(sig.Window)
	if window <= 0 {
		window = int(signature.DefaultWindow)
	}

	buf := make([]byte, 0, window)
	tmp := make([]byte, window)
	n, err := io.ReadFull(newStream, tmp)
	buf = append(buf, tmp[:n]...)
	eof := err == io.EOF || err == io.ErrUnexpectedEOF
	if err != nil && !eof {
		return errors.Wrap(err, "read initial window")
	}

	var pending []byte
	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := writeLiteral(rw, pending, opts.spillThreshold()); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	// rc tracks the rolling checksum of the current window. It is only
	// ever recomputed from scratch (Reset) after a confirmed block match,
	// when the window jumps to a disjoint run of bytes; every one-byte
	// slide on the miss path below updates it in O(1) via Roll, which is
	// the entire point of the rolling-hash component.
	var rc signature.RollingChecksum
	rc.Reset(buf)

	for len(buf) == window {
		weak := rc.Value()
		if offset, ok := matchStrong(sig, weak, buf); ok {
			if err := flushPending(); err != nil {
				return err
			}
			if err := rw.WriteU64(tagFromSource, offset); err != nil {
				return err
			}
			if eof {
				buf = buf[:0]
				break
			}
			n, err := io.ReadFull(newStream, tmp[:window])
			buf = append(buf[:0], tmp[:n]...)
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				eof = true
			} else if err != nil {
				return errors.Wrap(err, "refill window after match")
			}
			if len(buf) == window {
				rc.Reset(buf)
			}
			continue
		}

		outByte := buf[0]
		pending = append(pending, outByte)
		if eof {
			buf = buf[1:]
			if len(buf) == 0 {
				break
			}
			continue
		}
		var next [1]byte
		rn, err := newStream.Read(next[:])
		if rn == 1 {
			buf = append(buf[1:], next[0])
			rc.Roll(outByte, next[0])
		} else {
			buf = buf[1:]
		}
		if err == io.EOF {
			eof = true
		} else if err != nil {
			return errors.Wrap(err, "read next byte")
		}
	}

	// The stream ended with a short (< window) tail. The signature was
	// built with the same trailing-short-block treatment (spec.md §4.2),
	// so try matching the tail as a whole before falling back to literal.
	if len(buf) > 0 {
		weak := signature.WeakChecksum(buf)
		if offset, ok := matchStrong(sig, weak, buf); ok {
			if err := flushPending(); err != nil {
				return err
			}
			if err := rw.WriteU64(tagFromSource, offset); err != nil {
				return err
			}
		} else {
			pending = append(pending, buf...)
		}
	}

	if err := flushPending(); err != nil {
		return err
	}
	return nil
}

func matchStrong(sig *signature.Signature, weak uint32, block []byte) (uint64, bool) {
	candidates := sig.Lookup(weak)
	if len(candidates) == 0 {
		return 0, false
	}
	strong := strongHash(block)
	for _, c := range candidates {
		if c.Strong == strong {
			return c.Offset, true
		}
	}
	return 0, false
}

func writeLiteral(rw *record.Writer, data []byte, spillThreshold int) error {
	if len(data) < spillThreshold {
		return rw.WriteSlice(tagLiteral, data)
	}
	tmpFile, err := os.CreateTemp("", "bkoverssh-delta-literal-*")
	if err != nil {
		return errors.Wrap(err, "create literal spill file")
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()
	if _, err := tmpFile.Write(data); err != nil {
		return errors.Wrap(err, "write literal spill file")
	}
	return record.WriteFromFile(rw, tagLiteral, tmpFile)
}

// Restore reads a delta program from r and reconstructs the new file by
// reading from-source blocks out of source and copying literal payloads
// straight through to w.
func Restore(w io.Writer, source io.ReaderAt, sourceLen int64, r io.Reader) error {
	rr := record.NewReader(r)
	tag, windowVal, err := rr.ReadFieldUsize()
	if err != nil {
		return errors.Wrap(err, "read delta window")
	}
	if tag != tagWindow {
		return errors.Protocolf("expected window field, got %s", record.String(tag))
	}
	window := int64(windowVal)

	for {
		tag, length, err := rr.ReadFieldHeader()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read delta op header")
		}
		switch tag {
		case tagFromSource:
			if length != 8 {
				return errors.Truncatedf("from-source field: got %d bytes", length)
			}
			payload := make([]byte, 8)
			if _, err := io.ReadFull(r, payload); err != nil {
				return errors.Truncatedf("from-source payload")
			}
			offset := int64(getU64(payload))
			blockLen := window
			if offset+blockLen > sourceLen {
				blockLen = sourceLen - offset
			}
			if blockLen < 0 || offset > sourceLen {
				return errors.SourceOutOfRangef("from-source offset %d exceeds source length %d", offset, sourceLen)
			}
			block := make([]byte, blockLen)
			if blockLen > 0 {
				if _, err := source.ReadAt(block, offset); err != nil && err != io.EOF {
					return errors.Wrap(err, "read source block")
				}
			}
			if _, err := w.Write(block); err != nil {
				return errors.Wrap(err, "write restored block")
			}
		case tagLiteral:
			if err := rr.CopyPayload(w, length); err != nil {
				return err
			}
		default:
			return errors.Protocolf("unexpected delta field %s", record.String(tag))
		}
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
