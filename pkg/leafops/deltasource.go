package leafops

import (
	"io"
	"os"

	"github.com/jianglibo/bkoverssh/pkg/delta"
	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/signature"
)

// DeltaSource answers a hub's delta-source request: sig carries the
// signature the hub built of its own (possibly stale) copy, path names
// the leaf's current file, and the resulting delta program is written to
// out — the rsync-style rule that the signature is computed on the side
// with the old data and the delta on the side with the new data (spec.md
// §4.4, §4.6).
func DeltaSource(sig io.Reader, path string, out io.Writer, opts delta.Options) error {
	s, err := signature.Deserialize(sig)
	if err != nil {
		return errors.Wrap(err, "deserialize signature for %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open %s", path)
	}
	defer f.Close()

	return delta.Encode(out, s, f, opts)
}
