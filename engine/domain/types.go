// Package domain defines the product model shared by every stage of the
// aggregation pipeline, along with the validation applied at its entry points.
package domain

import "fmt"

// Source identifies an upstream marketplace.
type Source string

const (
	SourceAmazon  Source = "amazon"
	SourceEbay    Source = "ebay"
	SourceWalmart Source = "walmart"
)

// Sources lists every known upstream in fan-out order.
var Sources = []Source{SourceAmazon, SourceEbay, SourceWalmart}

// ParseSource returns the Source named s.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", NewValidationError("source", s, ErrUnknownSource)
}

// Product is a normalized listing. Once a query's result set is produced its
// products are treated as immutable.
type Product struct {
	ID               string    `json:"id"`
	Source           Source    `json:"source"`
	Name             string    `json:"name"`
	Price            float64   `json:"price"`
	Rating           float64   `json:"rating"`
	Reviews          int       `json:"reviews"`
	InStock          bool      `json:"inStock"`
	DeliveryDays     int       `json:"deliveryDays"`
	Image            string    `json:"image"`
	URL              string    `json:"url"`
	PriceHistory     []float64 `json:"priceHistory"`
	ReliabilityScore int       `json:"reliabilityScore"`
	PriceDeviation   int       `json:"priceDeviation"`
}

// ProductID builds the globally unique id for an upstream listing.
func ProductID(src Source, upstreamID string) string {
	return fmt.Sprintf("%s-%s", src, upstreamID)
}

// FastDeliveryDays is the delivery bound for the fast-delivery filter.
const FastDeliveryDays = 2
