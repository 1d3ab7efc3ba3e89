package sendtask

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrBloodrune/tuit/internal/store"
)

// importDegree bounds parallel import concurrency (spec.md §4.3 step 1:
// "implementation-chosen, ≈4"), grounded on the bounded errgroup fan-out
// pattern used for parallel work across the retrieval pack (aistore,
// perkeep).
const importDegree = 4

type importResult struct {
	name string
	hash store.Hash
	size int64
	tag  *store.TempTag
}

// importCandidates imports every candidate's file into st concurrently,
// releasing any temp tags already acquired if a later import fails so a
// partial batch never leaks GC-liveness references.
func importCandidates(ctx context.Context, st *store.Store, candidates []fileCandidate) ([]importResult, error) {
	results := make([]importResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importDegree)

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			h, size, tag, err := st.ImportFile(gctx, c.AbsPath)
			if err != nil {
				return fmt.Errorf("import %q: %w", c.AbsPath, err)
			}
			results[i] = importResult{name: c.Name, hash: h, size: size, tag: tag}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.tag != nil {
				r.tag.Release()
			}
		}
		return nil, err
	}
	return results, nil
}
