package walker

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/slashpath"
)

// LineWriter is the wire inventory sink: one JSON object per file, with an
// optional leading bare-path line anchoring the directory the rows below
// it belong to (spec's InventoryLine = Dir(SlashPath) | Item(...) shape).
type LineWriter struct {
	w *bufio.Writer
}

// NewLineWriter wraps w as a line-oriented inventory writer.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

// WriteDir emits a bare directory-path line anchoring subsequent rows.
func (lw *LineWriter) WriteDir(dir slashpath.SlashPath) error {
	if _, err := lw.w.WriteString(dir.String()); err != nil {
		return errors.Wrap(err, "write directory anchor line")
	}
	return lw.w.WriteByte('\n')
}

// Put implements Sink by marshaling item as one JSON line.
func (lw *LineWriter) Put(item RelativeFileItem) error {
	encoded, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "marshal inventory item")
	}
	if _, err := lw.w.Write(encoded); err != nil {
		return errors.Wrap(err, "write inventory item line")
	}
	return lw.w.WriteByte('\n')
}

// Flush flushes any buffered output.
func (lw *LineWriter) Flush() error {
	return lw.w.Flush()
}

// InventoryLine is the parsed form of one line of an inventory stream:
// exactly one of Dir or Item is set.
type InventoryLine struct {
	Dir  *slashpath.SlashPath
	Item *RelativeFileItem
}

// ParseLine dispatches a single inventory stream line: a line is a
// directory anchor iff it does not begin with '{'.
func ParseLine(line string) (InventoryLine, error) {
	if len(line) == 0 {
		return InventoryLine{}, errors.InvalidInputf("empty inventory line")
	}
	if line[0] != '{' {
		dir := slashpath.New(line)
		return InventoryLine{Dir: &dir}, nil
	}
	var item RelativeFileItem
	if err := json.Unmarshal([]byte(line), &item); err != nil {
		return InventoryLine{}, errors.Wrap(err, "parse inventory item line")
	}
	return InventoryLine{Item: &item}, nil
}
