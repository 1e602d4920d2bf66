package retrieval

import "math"

// MMR selects up to k candidates by maximal marginal relevance. Each step
// picks the candidate maximising
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for s in selected)
//
// with cosine similarity over the embeddings. The first pick is the
// candidate most similar to the query. Candidates keep their query score.
func MMR(query []float32, candidates []ScoredRecord, k int, lambda float32) []ScoredRecord {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	qNorm := norm(query)
	querySim := make([]float32, len(candidates))
	norms := make([]float32, len(candidates))
	for i, c := range candidates {
		querySim[i] = cosine(query, qNorm, c.Embedding)
		norms[i] = norm(c.Embedding)
	}

	// maxSim[i] is the highest similarity of candidate i to any selected one.
	maxSim := make([]float32, len(candidates))
	for i := range maxSim {
		maxSim[i] = float32(math.Inf(-1))
	}
	used := make([]bool, len(candidates))
	selected := make([]ScoredRecord, 0, k)

	for len(selected) < k {
		best, bestScore := -1, float32(math.Inf(-1))
		for i := range candidates {
			if used[i] {
				continue
			}
			score := querySim[i]
			if len(selected) > 0 {
				score = lambda*querySim[i] - (1-lambda)*maxSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		used[best] = true
		picked := candidates[best]
		picked.Score = querySim[best]
		selected = append(selected, picked)

		for i := range candidates {
			if used[i] {
				continue
			}
			if s := cosine(picked.Embedding, norms[best], candidates[i].Embedding); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected
}

// cosine returns the cosine similarity of a and b given a's norm. Zero
// vectors and length mismatches score 0.
func cosine(a []float32, aNorm float32, b []float32) float32 {
	if aNorm == 0 {
		return 0
	}
	return dotProduct(a, b, aNorm)
}
