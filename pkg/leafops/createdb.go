package leafops

import (
	"os"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/inventory"
)

// CreateDB opens (creating if absent) the leaf's local inventory database
// at path, matching spec.md §12's create-db subcommand. When force is
// set, any existing file at path is removed first so the schema is
// rebuilt from scratch.
func CreateDB(path string, force bool) (*inventory.Store, error) {
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "remove existing inventory database %s", path)
		}
	}
	return inventory.Open(path)
}
