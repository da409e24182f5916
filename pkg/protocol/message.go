// Package protocol implements the framed wire protocol spoken between hub
// and leaf over the leaf binary's stdin/stdout: typed messages for the
// push pipeline's file-by-file handshake, and the push-session state
// machine that rejects out-of-order frames.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// Tag identifies a wire message's shape and role in the push pipeline.
type Tag byte

// Transfer tags, fixed by spec for external consumers.
const (
	TagServerYml        Tag = 1
	TagFileItem          Tag = 2
	TagFileItemChanged   Tag = 3
	TagFileItemUnchanged Tag = 4
	TagStartSend         Tag = 5
	TagContent           Tag = 6
	TagRepeatDone        Tag = 7
	TagEof               Tag = 8

	// Older tag set used by the streaming SFTP side-channel path.
	TagCopyIn    Tag = 9
	TagCopyOut   Tag = 10
	TagRsyncIn   Tag = 11
	TagRsyncOut  Tag = 12
	TagListFiles Tag = 13
)

func (t Tag) String() string {
	switch t {
	case TagServerYml:
		return "ServerYml"
	case TagFileItem:
		return "FileItem"
	case TagFileItemChanged:
		return "FileItemChanged"
	case TagFileItemUnchanged:
		return "FileItemUnchanged"
	case TagStartSend:
		return "StartSend"
	case TagContent:
		return "Content"
	case TagRepeatDone:
		return "RepeatDone"
	case TagEof:
		return "Eof"
	case TagCopyIn:
		return "CopyIn"
	case TagCopyOut:
		return "CopyOut"
	case TagRsyncIn:
		return "RsyncIn"
	case TagRsyncOut:
		return "RsyncOut"
	case TagListFiles:
		return "ListFiles"
	default:
		return "Unknown"
	}
}

// WriteString writes a StringMessage: tag || u64 length || UTF-8 bytes.
func WriteString(w io.Writer, tag Tag, s string) error {
	if err := writeTag(w, tag); err != nil {
		return err
	}
	if err := writeU64(w, uint64(len(s))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "write string message payload")
	}
	return nil
}

// ReadString reads a StringMessage body after its tag has already been
// consumed by the caller (the state machine reads the tag to dispatch).
func ReadString(r io.Reader) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errors.Truncatedf("string message: demanded %d bytes", n)
	}
	return string(buf), nil
}

// WriteU64Message writes a U64Message: tag || u64.
func WriteU64Message(w io.Writer, tag Tag, v uint64) error {
	if err := writeTag(w, tag); err != nil {
		return err
	}
	return writeU64(w, v)
}

// ReadU64 reads a U64Message body after its tag has already been consumed.
func ReadU64(r io.Reader) (uint64, error) {
	return readU64(r)
}

// WriteTag writes a bare tag byte, for zero-payload messages (RepeatDone, Eof).
func WriteTag(w io.Writer, tag Tag) error {
	return writeTag(w, tag)
}

// ReadTag reads the next tag byte, returning io.EOF cleanly at stream end.
func ReadTag(r io.Reader) (Tag, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Truncatedf("tag byte")
	}
	return Tag(buf[0]), nil
}

// WriteRaw copies exactly len(data) bytes with no inner framing, for the
// Content message's raw byte run (its length was already advertised by a
// preceding StartSend).
func WriteRaw(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write raw content run")
	}
	return nil
}

// CopyRaw streams exactly n bytes from r to w with no inner framing.
func CopyRaw(w io.Writer, r io.Reader, n uint64) error {
	copied, err := io.CopyN(w, r, int64(n))
	if err != nil {
		return errors.Truncatedf("raw content run: demanded %d bytes, got %d", n, copied)
	}
	return nil
}

func writeTag(w io.Writer, tag Tag) error {
	if _, err := w.Write([]byte{byte(tag)}); err != nil {
		return errors.Wrap(err, "write tag byte")
	}
	return nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return errors.Wrap(err, "write u64")
	}
	return nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Truncatedf("u64 field")
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}
