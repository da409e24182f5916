package archive

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
	"github.com/jianglibo/bkoverssh/pkg/helper/log"
)

// PruneStrategy selects which archives survive a Prune call. Exactly one
// of KeepLastN or KeepPerPeriod should be set.
type PruneStrategy struct {
	// KeepLastN keeps the N archives with the lexicographically greatest
	// copy trait, deleting the rest. Zero disables this strategy.
	KeepLastN int
	// KeepPerPeriod keeps the single greatest-copy-trait archive within
	// each bucket of KeepPerPeriod consecutive archives (sorted ascending),
	// a coarse stand-in for calendar-period retention when the copy
	// trait is a bare ordinal rather than a timestamp. Zero disables
	// this strategy.
	KeepPerPeriod int
}

// Prune lists archivesDir for files matching naming's prefix/postfix,
// sorts their copy traits lexicographically (spec.md §4.7: "callers
// supply prefixes that make that ordering correspond to time order"),
// applies strategy, and deletes the losers. It returns the names deleted.
// A nil logger disables logging.
func Prune(archivesDir string, naming Naming, strategy PruneStrategy, logger log.Logger) ([]string, error) {
	names, err := listArchiveNames(archivesDir, naming)
	if err != nil {
		return nil, err
	}

	sort.Slice(names, func(i, j int) bool {
		return naming.extractTrait(names[i]) < naming.extractTrait(names[j])
	})

	keep := computeKeepSet(names, strategy)

	var deleted []string
	for _, name := range names {
		if keep[name] {
			continue
		}
		path := filepath.Join(archivesDir, name)
		if err := os.Remove(path); err != nil {
			return deleted, errors.Wrap(err, "remove pruned archive %s", path)
		}
		deleted = append(deleted, name)
	}
	if logger != nil && len(deleted) > 0 {
		logger.WithField("dir", archivesDir).WithField("count", len(deleted)).Info("pruned archives")
	}
	return deleted, nil
}

func computeKeepSet(namesAscending []string, strategy PruneStrategy) map[string]bool {
	keep := make(map[string]bool, len(namesAscending))

	if strategy.KeepLastN > 0 {
		n := strategy.KeepLastN
		start := len(namesAscending) - n
		if start < 0 {
			start = 0
		}
		for _, name := range namesAscending[start:] {
			keep[name] = true
		}
		return keep
	}

	if strategy.KeepPerPeriod > 0 {
		period := strategy.KeepPerPeriod
		for i := 0; i < len(namesAscending); i += period {
			end := i + period
			if end > len(namesAscending) {
				end = len(namesAscending)
			}
			// Keep the greatest (last, since ascending) trait in this bucket.
			keep[namesAscending[end-1]] = true
		}
		return keep
	}

	// No strategy configured: keep everything.
	for _, name := range namesAscending {
		keep[name] = true
	}
	return keep
}
