// Package snapshot creates and enumerates the immutable labeled copies kept
// under a text directory's .snapshot folder.
package snapshot

import (
	"sort"

	"github.com/starford/mcodex/internal/models"
	"github.com/starford/mcodex/internal/stage"
	"github.com/starford/mcodex/internal/storage"
)

// Catalog reads the snapshot set of one text directory. Directory names are
// the only source of truth; anything not matching the label syntax is ignored.
type Catalog struct {
	store storage.Provider
}

// NewCatalog returns a catalog over the text directory behind store.
func NewCatalog(store storage.Provider) *Catalog {
	return &Catalog{store: store}
}

// Labels returns the parsed labels, ordered by stage index and then by the
// full label text. Custom labels sort after every stage.
func (c *Catalog) Labels() ([]stage.Label, error) {
	names, err := c.store.ListDirs(models.SnapshotDir)
	if err != nil {
		return nil, err
	}
	labels := make([]stage.Label, 0, len(names))
	for _, name := range names {
		l, err := stage.ParseLabel(name)
		if err != nil {
			continue
		}
		labels = append(labels, l)
	}
	sort.SliceStable(labels, func(i, j int) bool {
		if a, b := labels[i].StageIndex(), labels[j].StageIndex(); a != b {
			return a < b
		}
		return labels[i].Raw < labels[j].Raw
	})
	return labels, nil
}

// List returns the label strings in catalog order.
func (c *Catalog) List() ([]string, error) {
	labels, err := c.Labels()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = l.Raw
	}
	return out, nil
}

// HighestStageIndex returns the highest stage reached by stage-numbered
// snapshots. ok is false when there are none.
func (c *Catalog) HighestStageIndex() (idx int, ok bool, err error) {
	labels, err := c.Labels()
	if err != nil {
		return 0, false, err
	}
	idx = -1
	for _, l := range labels {
		if l.IsCustom() {
			continue
		}
		if i := l.StageIndex(); i > idx {
			idx = i
		}
	}
	return idx, idx >= 0, nil
}

// NextNumber returns max(N)+1 over existing "<stageName>-N" snapshots.
func (c *Catalog) NextNumber(stageName string) (int, error) {
	latest, ok, err := c.Latest(stageName)
	if err != nil || !ok {
		return 1, err
	}
	return latest.Number + 1, nil
}

// Latest returns the highest-numbered snapshot of stageName.
func (c *Catalog) Latest(stageName string) (stage.Label, bool, error) {
	labels, err := c.Labels()
	if err != nil {
		return stage.Label{}, false, err
	}
	var best stage.Label
	found := false
	for _, l := range labels {
		if l.Stage != stageName {
			continue
		}
		if !found || l.Number > best.Number {
			best, found = l, true
		}
	}
	return best, found, nil
}

// Exists reports whether a snapshot directory named label exists.
func (c *Catalog) Exists(label string) bool {
	return c.store.Exists(models.SnapshotDir + "/" + label)
}
