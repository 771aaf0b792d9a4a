// Package ranking orders context documents by semantic closeness to a topic.
package ranking

import (
	"math"
	"sort"

	"github.com/unipost/unipost/internal/search"
)

// Ranked pairs a context document with its similarity to the topic
type Ranked struct {
	Doc        search.Document
	Similarity float64
}

// CosineSimilarity computes the cosine of the angle between two vectors,
// in [-1, 1]. Mismatched or zero-norm vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopN ranks documents by descending cosine similarity to the topic vector
// and returns the best n. Ties are broken by the document's original search
// rank, so the ordering is a total order and stable across runs. Documents
// scoring below minSimilarity are dropped.
func TopN(topicVec []float32, docs []search.Document, docVecs [][]float32, n int, minSimilarity float64) []Ranked {
	if n <= 0 || len(docs) == 0 || len(docs) != len(docVecs) {
		return nil
	}

	ranked := make([]Ranked, 0, len(docs))
	for i, doc := range docs {
		sim := CosineSimilarity(topicVec, docVecs[i])
		if sim < minSimilarity {
			continue
		}
		ranked = append(ranked, Ranked{Doc: doc, Similarity: sim})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Doc.Rank < ranked[j].Doc.Rank
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
