// Package record implements the length-prefixed tagged-field codec used
// by every on-disk or on-wire structured artifact in the backup engine:
// signatures, deltas, and the framed protocol messages. Framing is fixed
// regardless of caller: a big-endian u32 giving the length of the type
// byte plus payload, then the type byte, then the payload.
package record

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// Writer appends length-prefixed tagged fields to an underlying io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w in a record Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteU64 writes an 8-byte big-endian value as the field's payload.
func (w *Writer) WriteU64(tag byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return w.WriteSlice(tag, buf[:])
}

// WriteUsize writes a platform usize (always emitted as 8 bytes) payload.
func (w *Writer) WriteUsize(tag byte, v uint64) error {
	return w.WriteU64(tag, v)
}

// WriteSlice writes an arbitrary byte payload.
func (w *Writer) WriteSlice(tag byte, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = tag
	if _, err := w.w.Write(header); err != nil {
		return errors.Wrap(err, "write record header")
	}
	if _, err := w.w.Write(payload); err != nil {
		return errors.Wrap(err, "write record payload")
	}
	return nil
}

// WriteFromFile streams the entirety of file (seeking to its start first)
// as the field's payload, using the file's current length for the header.
func WriteFromFile(w *Writer, tag byte, file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return errors.Wrap(err, "stat file for record stream")
	}
	length := info.Size()
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[:4], uint32(length+1))
	header[4] = tag
	if _, err := w.w.Write(header); err != nil {
		return errors.Wrap(err, "write record header")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek file to start")
	}
	if _, err := io.Copy(w.w, file); err != nil {
		return errors.Wrap(err, "stream file payload")
	}
	return nil
}

// Reader reads length-prefixed tagged fields from an underlying io.Reader.
type Reader struct {
	r io.Reader
}

// NewReader wraps r in a record Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFieldHeader reads the next field's tag and payload length, without
// consuming the payload. io.EOF is returned when the stream ends cleanly
// between fields; any other short read becomes ErrTruncated.
func (r *Reader) ReadFieldHeader() (tag byte, length uint32, err error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r.r, lenBuf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return 0, 0, io.EOF
		}
		return 0, 0, errors.Truncatedf("field header: demanded 4 bytes, got %d", n)
	}
	recordLen := binary.BigEndian.Uint32(lenBuf[:])
	if recordLen == 0 {
		return 0, 0, errors.Truncatedf("field header: zero-length record")
	}

	var tagBuf [1]byte
	if _, err := io.ReadFull(r.r, tagBuf[:]); err != nil {
		return 0, 0, errors.Truncatedf("field header: demanded 1 tag byte, got 0")
	}
	return tagBuf[0], recordLen - 1, nil
}

// ReadFieldSlice reads the next field and returns its tag and raw payload.
func (r *Reader) ReadFieldSlice() (tag byte, payload []byte, err error) {
	tag, length, err := r.ReadFieldHeader()
	if err != nil {
		return 0, nil, err
	}
	payload = make([]byte, length)
	n, err := io.ReadFull(r.r, payload)
	if err != nil {
		return 0, nil, errors.Truncatedf("field payload: demanded %d bytes, got %d", length, n)
	}
	return tag, payload, nil
}

// ReadFieldUsize reads a field whose payload is an 8-byte big-endian value.
func (r *Reader) ReadFieldUsize() (tag byte, value uint64, err error) {
	tag, payload, err := r.ReadFieldSlice()
	if err != nil {
		return 0, 0, err
	}
	if len(payload) != 8 {
		return 0, 0, errors.Truncatedf("usize field: demanded 8 bytes, got %d", len(payload))
	}
	return tag, binary.BigEndian.Uint64(payload), nil
}

// CopyPayload copies exactly n bytes from the reader's underlying stream
// into w, for callers streaming a field's payload without buffering it
// (e.g. the delta engine's literal spill).
func (r *Reader) CopyPayload(w io.Writer, n uint32) error {
	copied, err := io.CopyN(w, r.r, int64(n))
	if err != nil {
		return errors.Truncatedf("payload stream: demanded %d bytes, got %d", n, copied)
	}
	return nil
}

// String renders a field tag for diagnostics.
func String(tag byte) string {
	return fmt.Sprintf("field(0x%02x)", tag)
}
