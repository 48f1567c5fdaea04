package store

import "github.com/WessleyAI/pricepulse/engine/domain"

// Action is a state transition request. The set of actions is closed.
type Action interface {
	// Kind names the action for logs and metrics.
	Kind() string
	action()
}

// SetProducts replaces the result set. A non-zero Search that is not the
// latest started search is ignored.
type SetProducts struct {
	Products []domain.Product
	Search   uint64
}

// SetFilter sets one filter field. Value must be a bool for the boolean
// filters and a float64 for maxPrice; anything else leaves filters unchanged.
type SetFilter struct {
	Name  string
	Value any
}

type SetSort struct {
	Field string
	Order string
}

type ResetSort struct{}

type ResetFilters struct{}

type SetHasSearched struct{ Value bool }

type SetTheme struct{ Theme string }

// SetLoading toggles the loading flag, subject to the same Search check as
// SetProducts.
type SetLoading struct {
	Loading bool
	Search  uint64
}

// SetError sets the user-visible error. An empty message clears it.
type SetError struct {
	Message string
	Search  uint64
}

// BeginSearch marks search number Search as the latest: loading on, error
// cleared, hasSearched set.
type BeginSearch struct{ Search uint64 }

// ResetSearch marks search number Search as the latest and returns to the
// pre-search view in one step: no products, no error, not loading, nothing
// searched.
type ResetSearch struct{ Search uint64 }

func (SetProducts) Kind() string    { return "SET_PRODUCTS" }
func (SetFilter) Kind() string      { return "SET_FILTER" }
func (SetSort) Kind() string        { return "SET_SORT" }
func (ResetSort) Kind() string      { return "RESET_SORT" }
func (ResetFilters) Kind() string   { return "RESET_FILTERS" }
func (SetHasSearched) Kind() string { return "SET_HAS_SEARCHED" }
func (SetTheme) Kind() string       { return "SET_THEME" }
func (SetLoading) Kind() string     { return "SET_LOADING" }
func (SetError) Kind() string       { return "SET_ERROR" }
func (BeginSearch) Kind() string    { return "BEGIN_SEARCH" }
func (ResetSearch) Kind() string    { return "RESET_SEARCH" }

func (SetProducts) action()    {}
func (SetFilter) action()      {}
func (SetSort) action()        {}
func (ResetSort) action()      {}
func (ResetFilters) action()   {}
func (SetHasSearched) action() {}
func (SetTheme) action()       {}
func (SetLoading) action()     {}
func (SetError) action()       {}
func (BeginSearch) action()    {}
func (ResetSearch) action()    {}
