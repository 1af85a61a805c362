package bayes

import (
	"fmt"
	"math"
	"sort"

	"github.com/cognicore/sheetclass/pkg/sheetclass/dataset"
	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
)

// Options tune classification.
type Options struct {
	// ApplyInverse also weighs how unlikely each token is in the other
	// categories.
	ApplyInverse bool
	// ProbabilityThreshold is the minimum posterior for the winning
	// category; below it the default category is returned.
	ProbabilityThreshold float64
	// DefaultCategory is returned when no known token matches, the top
	// categories tie, or the threshold is not met.
	DefaultCategory string
}

// Result is the outcome of classifying one document.
type Result struct {
	Category        string
	Probability     float64
	SecondCategory  string
	TimesMoreLikely float64
	Probabilities   map[string]float64
}

// Model is a trained naive Bayes classifier over document frequencies.
// Immutable after Train.
type Model struct {
	opts       Options
	categories []string                    // sorted
	docs       map[string]int64            // documents per category
	tokens     map[string]map[string]int64 // category -> token -> document frequency
	totals     map[string]int64            // token -> document frequency over all categories
	total      int64
}

// Train counts token document frequencies per category.
func Train(ds *dataset.LabeledDataset, opts Options) (*Model, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("train: %w", internalerr.ErrEmptyDataset)
	}

	m := &Model{
		opts:   opts,
		docs:   make(map[string]int64),
		tokens: make(map[string]map[string]int64),
		totals: make(map[string]int64),
	}

	for _, cat := range ds.Categories() {
		docs := ds.Documents(cat)
		if len(docs) == 0 {
			continue
		}
		m.categories = append(m.categories, cat)
		counts := make(map[string]int64)
		for _, doc := range docs {
			m.docs[cat]++
			m.total++
			for _, tok := range uniqueTokens(doc.Tokens) {
				counts[tok]++
				m.totals[tok]++
			}
		}
		m.tokens[cat] = counts
	}
	sort.Strings(m.categories)

	return m, nil
}

// Categories returns the trained categories in sorted order.
func (m *Model) Categories() []string {
	out := make([]string, len(m.categories))
	copy(out, m.categories)
	return out
}

// Vocabulary returns the number of distinct tokens seen in training.
func (m *Model) Vocabulary() int {
	return len(m.totals)
}

// Classify never fails: it falls back to DefaultCategory when there is no
// usable signal.
func (m *Model) Classify(doc dataset.Document) Result {
	known := make([]string, 0, len(doc.Tokens))
	for _, tok := range uniqueTokens(doc.Tokens) {
		if _, ok := m.totals[tok]; ok {
			known = append(known, tok)
		}
	}
	if len(known) == 0 {
		return Result{Category: m.opts.DefaultCategory}
	}

	scores := make([]float64, len(m.categories))
	for i, cat := range m.categories {
		nc := m.docs[cat]
		score := math.Log(float64(nc) / float64(m.total))
		for _, tok := range known {
			ntc := m.tokens[cat][tok]
			score += math.Log(smoothed(ntc, nc))
			if m.opts.ApplyInverse {
				score += math.Log(1 - smoothed(m.totals[tok]-ntc, m.total-nc))
			}
		}
		scores[i] = score
	}

	probs := softmax(scores)
	ranked := make([]int, len(m.categories))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return probs[ranked[a]] > probs[ranked[b]]
	})

	res := Result{Probabilities: make(map[string]float64, len(probs))}
	for i, cat := range m.categories {
		res.Probabilities[cat] = probs[i]
	}

	best := ranked[0]
	if len(ranked) > 1 {
		second := ranked[1]
		if math.Abs(probs[best]-probs[second]) < 1e-12 {
			res.Category = m.opts.DefaultCategory
			return res
		}
		res.SecondCategory = m.categories[second]
		if probs[second] > 0 {
			res.TimesMoreLikely = probs[best] / probs[second]
		}
	}

	if probs[best] < m.opts.ProbabilityThreshold {
		res.Category = m.opts.DefaultCategory
		res.SecondCategory = ""
		res.TimesMoreLikely = 0
		return res
	}

	res.Category = m.categories[best]
	res.Probability = probs[best]
	return res
}

// smoothed is the Laplace-smoothed probability that a document out of n
// contains a token seen in k of them.
func smoothed(k, n int64) float64 {
	return (float64(k) + 1) / (float64(n) + 2)
}

func softmax(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
