// Package store holds the single application state, changed only by
// dispatching actions through a pure reducer.
package store

import (
	"encoding/json"

	"github.com/WessleyAI/pricepulse/engine/domain"
)

// Filter names accepted by SetFilter.
const (
	FilterInStockOnly      = "inStockOnly"
	FilterFastDeliveryOnly = "fastDeliveryOnly"
	FilterMaxPrice         = "maxPrice"
)

// Sort orders.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

type Filters struct {
	InStockOnly      bool    `json:"inStockOnly"`
	FastDeliveryOnly bool    `json:"fastDeliveryOnly"`
	MaxPrice         float64 `json:"maxPrice"`
}

type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// AppState is the whole observable state. Products is the last result set as
// produced, before filtering or sorting. Search is the sequence number of the
// most recently started search. An empty Error means no error and is encoded
// as null.
type AppState struct {
	Products    []domain.Product `json:"products"`
	Filters     Filters          `json:"filters"`
	Sort        Sort             `json:"sort"`
	HasSearched bool             `json:"hasSearched"`
	Theme       string           `json:"theme"`
	Loading     bool             `json:"loading"`
	Error       string           `json:"error"`
	Search      uint64           `json:"search"`
}

func (s AppState) MarshalJSON() ([]byte, error) {
	type plain AppState
	var msg *string
	if s.Error != "" {
		msg = &s.Error
	}
	return json.Marshal(struct {
		plain
		Error *string `json:"error"`
	}{plain(s), msg})
}

func DefaultFilters() Filters {
	return Filters{MaxPrice: 5000}
}

func DefaultSort() Sort {
	return Sort{Field: "price", Order: OrderAsc}
}

// InitialState is the state before any dispatch.
func InitialState() AppState {
	return AppState{
		Products: []domain.Product{},
		Filters:  DefaultFilters(),
		Sort:     DefaultSort(),
		Theme:    ThemeLight,
	}
}
