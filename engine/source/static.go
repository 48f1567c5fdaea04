package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/fn"
)

// catalogItem is one demo product priced per marketplace.
type catalogItem struct {
	name   string
	prices map[domain.Source]float64
}

var demoCatalog = []catalogItem{
	{"Apple iPhone 15 Pro", map[domain.Source]float64{domain.SourceAmazon: 999, domain.SourceEbay: 949, domain.SourceWalmart: 989}},
	{"Samsung Galaxy S24 Ultra", map[domain.Source]float64{domain.SourceAmazon: 1199, domain.SourceEbay: 1129, domain.SourceWalmart: 1179}},
	{"Sony WH-1000XM5 Headphones", map[domain.Source]float64{domain.SourceAmazon: 399, domain.SourceEbay: 349, domain.SourceWalmart: 379}},
	{"Apple MacBook Air M3", map[domain.Source]float64{domain.SourceAmazon: 1099, domain.SourceEbay: 1049, domain.SourceWalmart: 1089}},
	{"Dell XPS 13 Laptop", map[domain.Source]float64{domain.SourceAmazon: 999, domain.SourceEbay: 899, domain.SourceWalmart: 979}},
	{"Apple iPad Air", map[domain.Source]float64{domain.SourceAmazon: 599, domain.SourceEbay: 559, domain.SourceWalmart: 589}},
	{"Nintendo Switch OLED", map[domain.Source]float64{domain.SourceAmazon: 349, domain.SourceEbay: 319, domain.SourceWalmart: 339}},
	{"Apple Watch Series 9", map[domain.Source]float64{domain.SourceAmazon: 399, domain.SourceEbay: 369, domain.SourceWalmart: 389}},
	{"Bose QuietComfort Earbuds II", map[domain.Source]float64{domain.SourceAmazon: 279, domain.SourceEbay: 239, domain.SourceWalmart: 269}},
	{"Google Pixel 8 Pro", map[domain.Source]float64{domain.SourceAmazon: 999, domain.SourceEbay: 929, domain.SourceWalmart: 979}},
}

// DemoCatalog returns the built-in listings for src.
func DemoCatalog(src domain.Source) []domain.Product {
	out := make([]domain.Product, 0, len(demoCatalog))
	for i, item := range demoCatalog {
		price, ok := item.prices[src]
		if !ok {
			continue
		}
		out = append(out, domain.Product{
			ID:           domain.ProductID(src, strconv.Itoa(i+1)),
			Source:       src,
			Name:         item.name,
			Price:        price,
			Rating:       domain.Round((4.2+float64(i%7)*0.1)*10) / 10,
			Reviews:      2000 + i*1200,
			InStock:      i%4 != 3,
			DeliveryDays: 1 + i%4,
			Image:        "https://picsum.photos/seed/" + string(src) + strconv.Itoa(i+1) + "/300/300",
			URL:          "#",
			PriceHistory: []float64{price + 110, price + 40, price + 70},
		})
	}
	return out
}

// StaticClient serves a fixed set of listings, matching every query term
// case-insensitively against the product name.
type StaticClient struct {
	src      domain.Source
	products []domain.Product
}

// NewStaticClient creates a client over products. A nil slice selects the
// demo catalog.
func NewStaticClient(src domain.Source, products []domain.Product) *StaticClient {
	if products == nil {
		products = DemoCatalog(src)
	}
	return &StaticClient{src: src, products: products}
}

func (c *StaticClient) Source() domain.Source { return c.src }

func (c *StaticClient) Fetch(ctx context.Context, query string) fn.Result[[]domain.Product] {
	if err := ctx.Err(); err != nil {
		return fn.Err[[]domain.Product](err)
	}
	terms := strings.Fields(strings.ToLower(query))
	return fn.Ok(fn.Filter(c.products, func(p domain.Product) bool {
		name := strings.ToLower(p.Name)
		for _, t := range terms {
			if !strings.Contains(name, t) {
				return false
			}
		}
		return true
	}))
}
