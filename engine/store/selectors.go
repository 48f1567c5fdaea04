package store

import (
	"sort"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/fn"
)

// sortKeys are the product fields SortedProducts can order by.
var sortKeys = map[string]func(domain.Product) float64{
	"price":            func(p domain.Product) float64 { return p.Price },
	"rating":           func(p domain.Product) float64 { return p.Rating },
	"reviews":          func(p domain.Product) float64 { return float64(p.Reviews) },
	"deliveryDays":     func(p domain.Product) float64 { return float64(p.DeliveryDays) },
	"reliabilityScore": func(p domain.Product) float64 { return float64(p.ReliabilityScore) },
	"priceDeviation":   func(p domain.Product) float64 { return float64(p.PriceDeviation) },
}

// SortFields lists the accepted sort field names.
func SortFields() []string {
	out := make([]string, 0, len(sortKeys))
	for k := range sortKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FilteredProducts applies the active filters, all of which must hold.
func FilteredProducts(s AppState) []domain.Product {
	f := s.Filters
	return fn.Filter(s.Products, func(p domain.Product) bool {
		if f.InStockOnly && !p.InStock {
			return false
		}
		if f.FastDeliveryOnly && p.DeliveryDays > domain.FastDeliveryDays {
			return false
		}
		return p.Price <= f.MaxPrice
	})
}

// SortedProducts filters, then stably sorts by the active sort. An unknown
// field or order leaves the filtered order untouched.
func SortedProducts(s AppState) []domain.Product {
	products := FilteredProducts(s)
	key, ok := sortKeys[s.Sort.Field]
	if !ok {
		return products
	}
	switch s.Sort.Order {
	case OrderAsc:
		sort.SliceStable(products, func(i, j int) bool { return key(products[i]) < key(products[j]) })
	case OrderDesc:
		sort.SliceStable(products, func(i, j int) bool { return key(products[i]) > key(products[j]) })
	}
	return products
}
