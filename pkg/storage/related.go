package storage

import (
	"context"
	"fmt"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// Finder is the subset of Driver needed to walk related memories.
type Finder interface {
	Get(ctx context.Context, id string) (*memory.Unit, error)
	Find(ctx context.Context, q memory.Query) ([]*memory.Unit, error)
}

// WalkRelated performs a breadth-first walk of relatedMemories starting at id.
// A unit is related to another when either lists the other. Depth below one is
// treated as one. The origin unit is never part of the result.
func WalkRelated(ctx context.Context, f Finder, id string, depth int) ([]*memory.Unit, error) {
	if depth < 1 {
		depth = 1
	}

	origin, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{origin.ID: true}
	frontier := []*memory.Unit{origin}
	var out []*memory.Unit

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []*memory.Unit
		for _, u := range frontier {
			var ids []string
			for _, rid := range u.RelatedMemories {
				if !seen[rid] {
					ids = append(ids, rid)
				}
			}

			var forward []*memory.Unit
			if len(ids) > 0 {
				forward, err = f.Find(ctx, memory.Query{Filter: memory.Filter{IDs: ids}})
				if err != nil {
					return nil, fmt.Errorf("resolving related memories of %s: %w", u.ID, err)
				}
			}

			backward, err := f.Find(ctx, memory.Query{Filter: memory.Filter{RelatedTo: u.ID}})
			if err != nil {
				return nil, fmt.Errorf("resolving memories related to %s: %w", u.ID, err)
			}

			for _, r := range append(forward, backward...) {
				if seen[r.ID] {
					continue
				}
				seen[r.ID] = true
				out = append(out, r)
				next = append(next, r)
			}
		}
		frontier = next
	}

	memory.SortUnits(out, memory.DefaultOrder)
	return out, nil
}
