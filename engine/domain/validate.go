package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinRating = 0
	MaxRating = 5
)

// NormalizeQuery trims surrounding whitespace. The result is the cache key.
func NormalizeQuery(q string) string {
	return strings.TrimSpace(q)
}

// ValidateQuery checks a trimmed query against maxLen runes.
func ValidateQuery(q string, maxLen int) error {
	text := NormalizeQuery(q)
	if text == "" {
		return NewValidationError("query", q, ErrEmptyQuery)
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return NewValidationError("query", truncate(text, 32), fmt.Errorf("%w: %w", ErrInvalidQuery, ErrQueryTooLong))
	}
	return nil
}

// ValidateProduct checks the presentation fields the core relies on.
func ValidateProduct(p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", p.ID, ErrInvalidProduct)
	}
	if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price < 0 {
		return NewValidationError("price", strconv.FormatFloat(p.Price, 'f', -1, 64), ErrPriceOutOfRange)
	}
	if math.IsNaN(p.Rating) || p.Rating < MinRating || p.Rating > MaxRating {
		return NewValidationError("rating", strconv.FormatFloat(p.Rating, 'f', -1, 64), ErrRatingRange)
	}
	if p.Reviews < 0 {
		return NewValidationError("reviews", strconv.Itoa(p.Reviews), ErrInvalidProduct)
	}
	if p.DeliveryDays < 1 {
		return NewValidationError("deliveryDays", strconv.Itoa(p.DeliveryDays), ErrInvalidProduct)
	}
	return nil
}

// Round rounds to the nearest integer with halves going toward positive
// infinity, so -12.5 becomes -12 and 12.5 becomes 13.
func Round(x float64) float64 { return math.Floor(x + 0.5) }

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
