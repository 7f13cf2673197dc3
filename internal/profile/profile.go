// Package profile turns buddy allocator occupancy into a pprof
// profile.Profile, so `go tool pprof` can inspect it the same way it
// inspects a heap profile: one sample per free-list order, valued in runs
// and bytes. Slab occupancy is not exported.
package profile

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"wcore/internal/buddy"
)

const (
	sampleTypeFrees = "free_runs"
	sampleTypeBytes = "free_bytes"
)

// BuddySnapshot renders a buddy.AllocStats snapshot as a pprof Profile: one
// Sample per order, labeled with its order number, valued
// [run count, free bytes].
func BuddySnapshot(stats buddy.AllocStats) *profile.Profile {
	runsType := &profile.ValueType{Type: sampleTypeFrees, Unit: "count"}
	bytesType := &profile.ValueType{Type: sampleTypeBytes, Unit: "bytes"}

	fn := &profile.Function{ID: 1, Name: "buddy.Snapshot", SystemName: "buddy.Snapshot"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{runsType, bytesType},
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
	}

	for _, o := range stats.Orders {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(o.Runs), int64(o.Bytes)},
			Label: map[string][]string{
				"order": {fmt.Sprintf("%d", o.Order)},
			},
		})
	}

	return p
}

// Write encodes stats as a gzip-compressed pprof profile onto w.
func Write(w io.Writer, stats buddy.AllocStats) error {
	return BuddySnapshot(stats).Write(w)
}
