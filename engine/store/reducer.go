package store

import "github.com/WessleyAI/pricepulse/engine/domain"

// Reducer computes the next state. It must be pure.
type Reducer func(AppState, Action) AppState

// superseded reports whether an action tagged with search belongs to a search
// that is no longer the latest.
func superseded(s AppState, search uint64) bool {
	return search != 0 && search != s.Search
}

// Reduce is the default reducer.
func Reduce(s AppState, a Action) AppState {
	switch a := a.(type) {
	case SetProducts:
		if superseded(s, a.Search) {
			return s
		}
		s.Products = a.Products
		if s.Products == nil {
			s.Products = []domain.Product{}
		}
	case SetFilter:
		s.Filters = applyFilter(s.Filters, a)
	case SetSort:
		s.Sort = Sort{Field: a.Field, Order: a.Order}
	case ResetSort:
		s.Sort = DefaultSort()
	case ResetFilters:
		s.Filters = DefaultFilters()
	case SetHasSearched:
		s.HasSearched = a.Value
	case SetTheme:
		s.Theme = a.Theme
	case SetLoading:
		if superseded(s, a.Search) {
			return s
		}
		s.Loading = a.Loading
	case SetError:
		if superseded(s, a.Search) {
			return s
		}
		s.Error = a.Message
	case BeginSearch:
		s.Search = a.Search
		s.Loading = true
		s.Error = ""
		s.HasSearched = true
	case ResetSearch:
		s.Search = a.Search
		s.Products = []domain.Product{}
		s.Error = ""
		s.HasSearched = false
		s.Loading = false
	}
	return s
}

func applyFilter(f Filters, a SetFilter) Filters {
	switch a.Name {
	case FilterInStockOnly:
		if v, ok := a.Value.(bool); ok {
			f.InStockOnly = v
		}
	case FilterFastDeliveryOnly:
		if v, ok := a.Value.(bool); ok {
			f.FastDeliveryOnly = v
		}
	case FilterMaxPrice:
		if v, ok := a.Value.(float64); ok {
			f.MaxPrice = v
		}
	}
	return f
}
