package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
)

// PriorLookup finds the most recent stored price of a series before a date.
type PriorLookup interface {
	PriorPrice(ctx context.Context, series domain.SeriesKey, before time.Time) (int64, bool, error)
}

var (
	numericPattern  = regexp.MustCompile(`^[0-9.,]+$`)
	currencyMarkers = []string{"US$", "R$", "$"}
	hundred         = decimal.NewFromInt(100)
	basisPoints     = decimal.NewFromInt(10000)
)

// Normalizer turns raw quotes into validated prices. It fails closed: any
// doubt about the value or the date rejects the quote.
type Normalizer struct {
	prior    PriorLookup
	validate *validator.Validate
	loc      *time.Location
	now      func() time.Time
}

func NewNormalizer(prior PriorLookup, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		prior:    prior,
		validate: validator.New(),
		loc:      loc,
		now:      time.Now,
	}
}

// Normalize parses raw and fills in the variation against the stored series.
func (n *Normalizer) Normalize(ctx context.Context, raw domain.RawQuote, d domain.ProviderDetails) (domain.Price, error) {
	p, err := n.Parse(raw, d)
	if err != nil {
		return domain.Price{}, err
	}
	if err := n.ApplyVariation(ctx, &p); err != nil {
		return domain.Price{}, err
	}
	return p, nil
}

// Parse builds a price fragment (variation still zero) from raw.
func (n *Normalizer) Parse(raw domain.RawQuote, d domain.ProviderDetails) (domain.Price, error) {
	value, err := ParsePrice(raw.RawValue, d.DecimalSeparator)
	if err != nil {
		return domain.Price{}, fmt.Errorf("%s: %w", d.ID, err)
	}

	fetchedAt := raw.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = n.now()
	}
	date, err := ParseDate(raw.RawDate, d.DateLayout, fetchedAt, n.loc)
	if err != nil {
		return domain.Price{}, fmt.Errorf("%s: %w", d.ID, err)
	}

	state := raw.Extra[domain.ExtraState]
	if state == "" {
		state = d.State
	}
	city := raw.Extra[domain.ExtraCity]
	if city == "" {
		city = d.City
	}

	p := domain.Price{
		Commodity: raw.Commodity,
		State:     domain.NormalizeState(state),
		City:      strings.Join(strings.Fields(city), " "),
		Price:     value,
		Date:      date,
		CreatedAt: n.now().UTC(),
	}

	if err := n.validate.Struct(p); err != nil {
		return domain.Price{}, fmt.Errorf("%w: %s: %v", domain.ErrValidation, d.ID, err)
	}
	return p, nil
}

// ApplyVariation sets p.Variation against the most recent stored price of the
// same series dated strictly before p.Date, or zero when there is none.
func (n *Normalizer) ApplyVariation(ctx context.Context, p *domain.Price) error {
	prior, found, err := n.prior.PriorPrice(ctx, p.Series(), p.Date)
	if err != nil {
		return err
	}
	if !found {
		p.Variation = 0
		return nil
	}
	p.Variation = Variation(prior, p.Price)
	return nil
}

// Variation is the change from prior to current in basis points, rounded half away from zero.
func Variation(prior, current int64) int64 {
	if prior <= 0 {
		return 0
	}
	delta := decimal.NewFromInt(current - prior).Mul(basisPoints)
	return delta.Div(decimal.NewFromInt(prior)).Round(0).IntPart()
}

// ParsePrice converts a provider value into minor currency units. decimalSep is
// the provider's decimal mark; the other of '.' and ',' is accepted only as a
// thousands separator with strict three-digit grouping.
func ParsePrice(raw, decimalSep string) (int64, error) {
	if decimalSep == "" {
		decimalSep = ","
	}
	if decimalSep != "," && decimalSep != "." {
		return 0, fmt.Errorf("%w: separador decimal inválido %q", domain.ErrValidation, decimalSep)
	}
	thousandsSep := "."
	if decimalSep == "." {
		thousandsSep = ","
	}

	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, m := range currencyMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)

	if s == "" || !numericPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: valor não numérico %q", domain.ErrValidation, raw)
	}

	parts := strings.Split(s, decimalSep)
	if len(parts) > 2 {
		return 0, fmt.Errorf("%w: mais de um separador decimal em %q", domain.ErrValidation, raw)
	}

	intPart, err := parseGrouped(parts[0], thousandsSep)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", domain.ErrValidation, raw, err)
	}

	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
		if frac == "" || strings.Contains(frac, thousandsSep) {
			return 0, fmt.Errorf("%w: parte decimal inválida em %q", domain.ErrValidation, raw)
		}
		if len(frac) > 2 {
			if strings.Trim(frac[2:], "0") != "" {
				return 0, fmt.Errorf("%w: mais de duas casas decimais em %q", domain.ErrValidation, raw)
			}
			frac = frac[:2]
		}
	}
	if len(intPart) > 15 {
		return 0, fmt.Errorf("%w: valor fora do intervalo %q", domain.ErrValidation, raw)
	}

	number := intPart
	if frac != "" {
		number += "." + frac
	}
	d, err := decimal.NewFromString(number)
	if err != nil {
		return 0, fmt.Errorf("%w: valor não numérico %q", domain.ErrValidation, raw)
	}

	cents := d.Mul(hundred).IntPart()
	if cents <= 0 {
		return 0, fmt.Errorf("%w: valor deve ser positivo: %q", domain.ErrValidation, raw)
	}
	return cents, nil
}

func parseGrouped(s, sep string) (string, error) {
	if s == "" {
		return "0", nil
	}
	if !strings.Contains(s, sep) {
		return s, nil
	}

	groups := strings.Split(s, sep)
	if len(groups[0]) < 1 || len(groups[0]) > 3 {
		return "", fmt.Errorf("agrupamento de milhar inválido")
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", fmt.Errorf("agrupamento de milhar inválido")
		}
	}
	return strings.Join(groups, ""), nil
}

// ParseDate reads a provider date with layout, trying the whole string first and
// then each whitespace-separated token. An empty raw date falls back to the
// calendar date of fallback in loc.
func ParseDate(raw, layout string, fallback time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.DateOnly(fallback.In(loc)), nil
	}
	if layout == "" {
		layout = "02/01/2006"
	}

	if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
		return domain.DateOnly(t), nil
	}
	for _, tok := range strings.Fields(raw) {
		tok = strings.Trim(tok, ":;,()[]")
		if t, err := time.ParseInLocation(layout, tok, loc); err == nil {
			return domain.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: data %q não corresponde ao formato %q", domain.ErrValidation, raw, layout)
}
