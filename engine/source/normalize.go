package source

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/WessleyAI/pricepulse/engine/domain"
	"github.com/WessleyAI/pricepulse/pkg/fn"
)

// rawListing is the union of upstream listing shapes we accept: the
// dummyjson search schema (title/stock/thumbnail) and the canonical one
// (name/inStock/image).
type rawListing struct {
	ID           json.RawMessage `json:"id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Price        *float64        `json:"price"`
	Rating       float64         `json:"rating"`
	Stock        *int            `json:"stock"`
	InStock      *bool           `json:"inStock"`
	Reviews      json.RawMessage `json:"reviews"`
	DeliveryDays int             `json:"deliveryDays"`
	Thumbnail    string          `json:"thumbnail"`
	Image        string          `json:"image"`
	URL          string          `json:"url"`
	PriceHistory []float64       `json:"priceHistory"`
}

// Normalize maps an upstream search payload to canonical products. A payload
// without a "products" array yields an empty list; listings that cannot be
// decoded or fail validation are skipped.
func Normalize(log *slog.Logger, src domain.Source, multiplier float64, payload []byte) []domain.Product {
	if log == nil {
		log = slog.Default()
	}
	if multiplier <= 0 {
		multiplier = 1
	}

	var envelope struct {
		Products json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Warn("source: malformed payload", "source", src, "err", err)
		return []domain.Product{}
	}
	raw := bytes.TrimSpace(envelope.Products)
	if len(raw) == 0 || raw[0] != '[' {
		log.Warn("source: payload has no products array", "source", src)
		return []domain.Product{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		log.Warn("source: malformed products array", "source", src, "err", err)
		return []domain.Product{}
	}

	out := fn.FilterMap(items, func(item json.RawMessage) (domain.Product, bool) {
		var l rawListing
		if err := json.Unmarshal(item, &l); err != nil {
			log.Debug("source: skipping undecodable listing", "source", src, "err", err)
			return domain.Product{}, false
		}
		p, ok := l.product(src, multiplier)
		if !ok {
			return domain.Product{}, false
		}
		if err := domain.ValidateProduct(p); err != nil {
			log.Debug("source: skipping invalid listing", "source", src, "err", err)
			return domain.Product{}, false
		}
		return p, true
	})
	if out == nil {
		out = []domain.Product{}
	}
	return out
}

func (l rawListing) product(src domain.Source, multiplier float64) (domain.Product, bool) {
	if l.Price == nil {
		return domain.Product{}, false
	}
	name := l.Name
	if name == "" {
		name = l.Title
	}
	upstreamID := rawID(l.ID)
	if upstreamID == "" {
		upstreamID = strconv.FormatUint(uint64(digest(string(src), name)), 36)
	}
	seed := digest(string(src), upstreamID)

	price := domain.Round(*l.Price * multiplier)

	reviews, ok := rawCount(l.Reviews)
	if !ok {
		reviews = int(seed % 10000)
	}
	delivery := l.DeliveryDays
	if delivery <= 0 {
		delivery = 2 + int(seed%4)
	}

	inStock := false
	switch {
	case l.InStock != nil:
		inStock = *l.InStock
	case l.Stock != nil:
		inStock = *l.Stock > 0
	}

	image := l.Image
	if image == "" {
		image = l.Thumbnail
	}
	url := l.URL
	if url == "" {
		url = "#"
	}

	history := l.PriceHistory
	if len(history) == 0 {
		history = []float64{domain.Round(*l.Price + 50), price, price + 30}
	}

	return domain.Product{
		ID:           domain.ProductID(src, upstreamID),
		Source:       src,
		Name:         name,
		Price:        price,
		Rating:       math.Max(domain.MinRating, math.Min(domain.MaxRating, l.Rating)),
		Reviews:      reviews,
		InStock:      inStock,
		DeliveryDays: delivery,
		Image:        image,
		URL:          url,
		PriceHistory: history,
	}, true
}

// rawID renders a JSON string or number id as text.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

// rawCount reads a numeric review count. Review lists and other shapes report false.
func rawCount(raw json.RawMessage) (int, bool) {
	var n float64
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil || n < 0 {
		return 0, false
	}
	return int(n), true
}

func digest(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum32()
}
