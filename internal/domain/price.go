package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Commodity is one of the tracked agricultural/livestock products.
type Commodity string

const (
	CommodityBoi    Commodity = "boi"
	CommodityVaca   Commodity = "vaca"
	CommoditySoja   Commodity = "soja"
	CommodityMilho  Commodity = "milho"
	CommodityMachos Commodity = "machos"
	CommodityFemeas Commodity = "femeas"
)

var commodities = map[Commodity]struct{}{
	CommodityBoi:    {},
	CommodityVaca:   {},
	CommoditySoja:   {},
	CommodityMilho:  {},
	CommodityMachos: {},
	CommodityFemeas: {},
}

// Commodities returns the closed set ordered by name.
func Commodities() []Commodity {
	out := make([]Commodity, 0, len(commodities))
	for c := range commodities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ParseCommodity(s string) (Commodity, error) {
	c := Commodity(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: commodity desconhecida %q", ErrValidation, s)
	}
	return c, nil
}

func (c Commodity) Valid() bool {
	_, ok := commodities[c]
	return ok
}

func (c Commodity) String() string { return string(c) }

// Price is one stored quote. Variation is expressed in basis points.
type Price struct {
	ID        int64     `db:"id" json:"id,omitempty"`
	Commodity Commodity `db:"commodity" json:"commodity" validate:"required,oneof=boi vaca soja milho machos femeas"`
	State     string    `db:"state" json:"state" validate:"required,len=2,alpha,uppercase"`
	City      string    `db:"city" json:"city,omitempty" validate:"max=120"`
	Price     int64     `db:"price" json:"price" validate:"gt=0"`
	Variation int64     `db:"variation" json:"variation"`
	Date      time.Time `db:"date" json:"date" validate:"required"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Key returns the identity of the row the price upserts into.
func (p Price) Key() PriceKey {
	return PriceKey{Commodity: p.Commodity, State: p.State, City: p.City, Date: p.Date}
}

// Series identifies the (commodity, state, city) series a price belongs to.
func (p Price) Series() SeriesKey {
	return SeriesKey{Commodity: p.Commodity, State: p.State, City: p.City}
}

type SeriesKey struct {
	Commodity Commodity
	State     string
	City      string
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Commodity, k.State, k.City)
}

type PriceKey struct {
	Commodity Commodity
	State     string
	City      string
	Date      time.Time
}

func (k PriceKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Commodity, k.State, k.City, k.Date.Format(DateLayout))
}

// UpsertResult describes what an upsert did to the existing row, if any.
type UpsertResult struct {
	Inserted          bool
	Changed           bool
	PreviousPrice     int64
	PreviousVariation int64
}

// Summary is the per-commodity aggregate over the rows at the latest known date.
type Summary struct {
	Commodity    Commodity `json:"commodity"`
	AvgPrice     int64     `json:"avg_price"`
	AvgVariation int64     `json:"avg_variation"`
	Count        int       `json:"count"`
	LastUpdate   time.Time `json:"last_update"`
}

const DateLayout = "2006-01-02"

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeState trims and upper-cases a region code.
func NormalizeState(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidState reports whether s is a normalized two-letter code.
func ValidState(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
