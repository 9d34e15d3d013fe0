// Package bucket maps a memory snapshot onto named JSON payloads stored one
// row per bucket by the durable backends.
package bucket

import (
	"encoding/json"
	"fmt"

	"forestcensus/internal/infra/persistence/memory"
)

// Names lists the buckets in write order.
var Names = []string{
	"forests",
	"plots",
	"trips",
	"forest_censuses",
	"plot_censuses",
	"trees",
	"tree_censuses",
	"tree_labels",
	"tree_census_labels",
	"tree_photos",
}

// Entry is one encoded bucket.
type Entry struct {
	Name    string
	Payload []byte
}

func targets(s *memory.Snapshot) map[string]any {
	return map[string]any{
		"forests":            &s.Forests,
		"plots":              &s.Plots,
		"trips":              &s.Trips,
		"forest_censuses":    &s.ForestCensuses,
		"plot_censuses":      &s.PlotCensuses,
		"trees":              &s.Trees,
		"tree_censuses":      &s.TreeCensuses,
		"tree_labels":        &s.TreeLabels,
		"tree_census_labels": &s.TreeCensusLabels,
		"tree_photos":        &s.TreePhotos,
	}
}

// Encode serialises every bucket of snapshot in Names order.
func Encode(snapshot memory.Snapshot) ([]Entry, error) {
	src := targets(&snapshot)
	out := make([]Entry, 0, len(Names))
	for _, name := range Names {
		data, err := json.Marshal(src[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, Entry{Name: name, Payload: data})
	}
	return out, nil
}

// Decoder accumulates bucket payloads into a snapshot. Unknown buckets and
// empty payloads are ignored.
type Decoder struct {
	snapshot memory.Snapshot
	targets  map[string]any
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	d := &Decoder{}
	d.targets = targets(&d.snapshot)
	return d
}

// Add decodes one bucket payload.
func (d *Decoder) Add(name string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	target, ok := d.targets[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Snapshot returns the decoded state.
func (d *Decoder) Snapshot() memory.Snapshot {
	return d.snapshot
}
