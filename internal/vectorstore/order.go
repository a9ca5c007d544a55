package vectorstore

import (
	"sort"
)

// overfetch is how many candidates a backend asks for per requested hit, so
// ties at the cut-off are broken by rank rather than by backend order.
func overfetch(topK int) int {
	n := topK * 2
	if n < topK+8 {
		n = topK + 8
	}
	return n
}

// rank orders hits by score descending, then CreatedAt ascending, then asset
// ID, and trims to topK.
func rank(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.AssetID < b.AssetID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
