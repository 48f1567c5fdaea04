package aggregate

import (
	"math"
	"strconv"
	"strings"

	"github.com/WessleyAI/pricepulse/engine/domain"
)

// DefaultWeights ranks marketplaces by trust. The top weight plus the rating
// and review caps reaches exactly 100.
var DefaultWeights = map[domain.Source]int{
	domain.SourceAmazon:  30,
	domain.SourceWalmart: 20,
	domain.SourceEbay:    15,
}

const (
	maxRatingWeight = 40
	maxReviewWeight = 30
)

// Scorer computes reliability scores from per-source base weights.
type Scorer struct {
	Weights map[domain.Source]int
}

// Score returns the 0-100 reliability of p.
func (s Scorer) Score(p domain.Product) int {
	rating := math.Min(p.Rating*20, maxRatingWeight)
	reviews := math.Min(float64(p.Reviews)/1000*30, maxReviewWeight)
	total := domain.Round(math.Max(rating, 0) + math.Max(reviews, 0) + float64(s.Weights[p.Source]))
	return int(math.Max(0, math.Min(100, total)))
}

// Apply returns a copy of products with ReliabilityScore set.
func (s Scorer) Apply(products []domain.Product) []domain.Product {
	out := make([]domain.Product, len(products))
	for i, p := range products {
		p.ReliabilityScore = s.Score(p)
		out[i] = p
	}
	return out
}

// DedupeKey identifies listings of the same item across sources.
func DedupeKey(p domain.Product) string {
	return strings.ToLower(p.Name) + "-" + strconv.FormatFloat(domain.Round(p.Price), 'f', 0, 64)
}

// Dedupe keeps one product per DedupeKey: the one with the highest
// ReliabilityScore, the first seen on ties. Survivors keep the position of
// their key's first occurrence.
func Dedupe(products []domain.Product) []domain.Product {
	index := make(map[string]int, len(products))
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		key := DedupeKey(p)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, p)
			continue
		}
		if p.ReliabilityScore > out[i].ReliabilityScore {
			out[i] = p
		}
	}
	return out
}

// PriceDeviation returns a copy of products annotated with their percentage
// distance from the mean price.
func PriceDeviation(products []domain.Product) []domain.Product {
	out := make([]domain.Product, len(products))
	if len(products) == 0 {
		return out
	}
	var sum float64
	for _, p := range products {
		sum += p.Price
	}
	mean := sum / float64(len(products))
	for i, p := range products {
		p.PriceDeviation = 0
		if mean != 0 {
			p.PriceDeviation = int(domain.Round((p.Price - mean) / mean * 100))
		}
		out[i] = p
	}
	return out
}
