package bucket

import (
	"testing"

	"forestcensus/internal/infra/persistence/memory"
	"forestcensus/pkg/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	initID := "tc1"
	snap := memory.Snapshot{
		Forests: map[string]domain.Forest{"f1": {Base: domain.Base{ID: "f1"}, Name: "North"}},
		Trees:   map[string]domain.Tree{"T-1": {Base: domain.Base{ID: "T-1"}, PlotID: "p1", InitCensusID: &initID}},
	}
	entries, err := Encode(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(entries) != len(Names) {
		t.Fatalf("expected %d buckets, got %d", len(Names), len(entries))
	}
	for i, e := range entries {
		if e.Name != Names[i] {
			t.Fatalf("bucket order mismatch at %d: %s", i, e.Name)
		}
	}

	dec := NewDecoder()
	for _, e := range entries {
		if err := dec.Add(e.Name, e.Payload); err != nil {
			t.Fatalf("add %s: %v", e.Name, err)
		}
	}
	if err := dec.Add("legacy_bucket", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("unknown buckets should be ignored: %v", err)
	}
	got := dec.Snapshot()
	if got.Forests["f1"].Name != "North" {
		t.Fatalf("forest lost in round trip: %+v", got.Forests)
	}
	if tree := got.Trees["T-1"]; tree.InitCensusID == nil || *tree.InitCensusID != "tc1" {
		t.Fatalf("tree lost in round trip: %+v", tree)
	}
}

func TestDecodeRejectsCorruptPayload(t *testing.T) {
	if err := NewDecoder().Add("trees", []byte(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
