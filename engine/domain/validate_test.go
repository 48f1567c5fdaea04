package domain

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	if err := ValidateQuery("  phone  ", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateQuery("   ", 10); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	err := ValidateQuery(strings.Repeat("x", 11), 10)
	if !errors.Is(err, ErrInvalidQuery) || !errors.Is(err, ErrQueryTooLong) {
		t.Fatalf("expected invalid/too long, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "query" {
		t.Fatalf("expected ValidationError on query, got %v", err)
	}
}

func TestValidateQueryCountsRunes(t *testing.T) {
	if err := ValidateQuery("ééééé", 5); err != nil {
		t.Fatalf("multi-byte runes should count once: %v", err)
	}
}

func TestValidateQueryNoLimit(t *testing.T) {
	if err := ValidateQuery(strings.Repeat("x", 1000), 0); err != nil {
		t.Fatalf("zero max length means unlimited: %v", err)
	}
}

func TestValidateProduct(t *testing.T) {
	ok := Product{ID: "amazon-1", Name: "Phone", Price: 10, Rating: 4.5, Reviews: 3, DeliveryDays: 2}
	if err := ValidateProduct(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Product)
		want error
	}{
		{"empty name", func(p *Product) { p.Name = " " }, ErrInvalidProduct},
		{"negative price", func(p *Product) { p.Price = -1 }, ErrPriceOutOfRange},
		{"nan price", func(p *Product) { p.Price = math.NaN() }, ErrPriceOutOfRange},
		{"rating above 5", func(p *Product) { p.Rating = 5.1 }, ErrRatingRange},
		{"negative reviews", func(p *Product) { p.Reviews = -1 }, ErrInvalidProduct},
		{"zero delivery", func(p *Product) { p.DeliveryDays = 0 }, ErrInvalidProduct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ok
			tt.mut(&p)
			if err := ValidateProduct(p); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	if s, err := ParseSource("ebay"); err != nil || s != SourceEbay {
		t.Fatalf("unexpected: %v %v", s, err)
	}
	if _, err := ParseSource("etsy"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestProductID(t *testing.T) {
	if ProductID(SourceWalmart, "7") != "walmart-7" {
		t.Fatal("unexpected product id")
	}
}

func TestRound(t *testing.T) {
	cases := map[float64]float64{
		2.5:   3,
		2.4:   2,
		-0.5:  0,
		-12.5: -12,
		-12.6: -13,
	}
	for in, want := range cases {
		if got := Round(in); got != want {
			t.Errorf("Round(%v) = %v, want %v", in, got, want)
		}
	}
}
