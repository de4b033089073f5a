package vectorsearch

import (
	"fmt"
	"sort"

	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
)

// ErrInvalidLimit is returned for a negative result limit.
var ErrInvalidLimit = fmt.Errorf("%w: limit must not be negative", common.ErrInvalidInput)

// Options controls FindSimilar.
type Options struct {
	ExcludeDecisionID string
	MinSimilarity     float64
	Limit             int
}

// Match is a candidate that passed the similarity threshold.
type Match struct {
	Embedding  model.ConversationEmbedding
	Similarity float64
}

// Result holds ranked matches plus how many candidates could not be compared.
type Result struct {
	Matches []Match
	Skipped int // Candidates with a different dimension or non-finite components
}

// FindSimilar ranks candidates by cosine similarity to query, most similar
// first, with ties broken by the newest CreatedAt. Candidates below
// MinSimilarity are dropped. When ExcludeDecisionID is set, twice the limit is
// taken before the excluded decision is removed so that exclusion does not
// starve the result. A query with NaN or infinite components is an error.
func FindSimilar(query []float32, candidates []model.ConversationEmbedding, opts Options) (Result, error) {
	if opts.Limit < 0 {
		return Result{}, ErrInvalidLimit
	}
	if !Finite(query) {
		return Result{}, ErrNonFinite
	}
	result := Result{Matches: []Match{}}
	if opts.Limit == 0 || len(candidates) == 0 {
		return result, nil
	}

	scored := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		sim, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			result.Skipped++
			continue
		}
		if sim < opts.MinSimilarity {
			continue
		}
		scored = append(scored, Match{Embedding: c, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Embedding.CreatedAt.After(scored[j].Embedding.CreatedAt)
	})

	if opts.ExcludeDecisionID == "" {
		result.Matches = truncate(scored, opts.Limit)
		return result, nil
	}

	window := truncate(scored, opts.Limit*2)
	filtered := make([]Match, 0, len(window))
	for _, m := range window {
		if m.Embedding.DecisionID == opts.ExcludeDecisionID {
			continue
		}
		filtered = append(filtered, m)
	}
	result.Matches = truncate(filtered, opts.Limit)
	return result, nil
}

func truncate(matches []Match, n int) []Match {
	if len(matches) > n {
		return matches[:n]
	}
	return matches
}
