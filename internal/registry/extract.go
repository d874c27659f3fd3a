package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
)

// Extractor turns a provider response body into a document that can be queried by tag.
type Extractor interface {
	Parse(body []byte) (Document, error)
}

// Document answers tag lookups. ok is false when the target is missing or empty.
type Document interface {
	Lookup(tag string) (value string, ok bool)
}

const (
	StrategyHTML     = "html"
	StrategyJSON     = "json"
	StrategyJSONPath = "jsonpath"
)

var (
	extractorsMu sync.RWMutex
	extractors   = map[string]Extractor{
		StrategyHTML:     HTMLExtractor{},
		StrategyJSON:     JSONExtractor{},
		StrategyJSONPath: JSONPathExtractor{},
	}
)

// Register makes a strategy available to provider configs.
func Register(name string, x Extractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	extractors[strings.ToLower(name)] = x
}

func extractorFor(name string) (Extractor, bool) {
	extractorsMu.RLock()
	defer extractorsMu.RUnlock()
	x, ok := extractors[strings.ToLower(strings.TrimSpace(name))]
	return x, ok
}

// Strategies lists the registered strategy names.
func Strategies() []string {
	extractorsMu.RLock()
	defer extractorsMu.RUnlock()
	out := make([]string, 0, len(extractors))
	for name := range extractors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Extract parses body with the provider's extractor and builds the raw tuple.
// A missing price tag, or a configured date/state/city tag that is missing, is a ParseError.
func (p Provider) Extract(body []byte, fetchedAt time.Time) (domain.RawQuote, error) {
	d := p.Details

	doc, err := p.Extractor.Parse(body)
	if err != nil {
		return domain.RawQuote{}, fmt.Errorf("%w: %s: %v", domain.ErrParse, d.ID, err)
	}

	value, ok := doc.Lookup(d.Tag)
	if !ok {
		return domain.RawQuote{}, fmt.Errorf("%w: %s: alvo %q não encontrado", domain.ErrParse, d.ID, d.Tag)
	}

	raw := domain.RawQuote{
		Commodity:  p.Commodity,
		ProviderID: d.ID,
		RawValue:   value,
		Extra:      map[string]string{},
		FetchedAt:  fetchedAt,
	}

	if d.DateTag != "" {
		date, ok := doc.Lookup(d.DateTag)
		if !ok {
			return domain.RawQuote{}, fmt.Errorf("%w: %s: data %q não encontrada", domain.ErrParse, d.ID, d.DateTag)
		}
		raw.RawDate = date
	}

	raw.Extra[domain.ExtraState] = d.State
	if d.StateTag != "" {
		state, ok := doc.Lookup(d.StateTag)
		if !ok {
			return domain.RawQuote{}, fmt.Errorf("%w: %s: estado %q não encontrado", domain.ErrParse, d.ID, d.StateTag)
		}
		raw.Extra[domain.ExtraState] = state
	}

	raw.Extra[domain.ExtraCity] = d.City
	if d.CityTag != "" {
		city, ok := doc.Lookup(d.CityTag)
		if !ok {
			return domain.RawQuote{}, fmt.Errorf("%w: %s: cidade %q não encontrada", domain.ErrParse, d.ID, d.CityTag)
		}
		raw.Extra[domain.ExtraCity] = city
	}

	return raw, nil
}

// HTMLExtractor selects text with CSS selectors.
type HTMLExtractor struct{}

func (HTMLExtractor) Parse(body []byte) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("html inválido: %w", err)
	}
	return htmlDocument{doc: doc}, nil
}

type htmlDocument struct {
	doc *goquery.Document
}

func (h htmlDocument) Lookup(selector string) (string, bool) {
	sel := h.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := strings.Join(strings.Fields(sel.Text()), " ")
	return text, text != ""
}

// JSONExtractor reads fields by gjson path, e.g. "data.0.preco".
type JSONExtractor struct{}

func (JSONExtractor) Parse(body []byte) (Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("json inválido")
	}
	return jsonDocument{body: body}, nil
}

type jsonDocument struct {
	body []byte
}

func (j jsonDocument) Lookup(path string) (string, bool) {
	res := gjson.GetBytes(j.body, path)
	if !res.Exists() || res.Type == gjson.Null {
		return "", false
	}
	if res.IsArray() {
		arr := res.Array()
		if len(arr) == 0 {
			return "", false
		}
		res = arr[0]
	}
	v := strings.TrimSpace(res.String())
	return v, v != ""
}

// JSONPathExtractor reads fields by JSONPath expression, e.g. "$.cotacoes[0].valor".
type JSONPathExtractor struct{}

func (JSONPathExtractor) Parse(body []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("json inválido: %w", err)
	}
	return jsonPathDocument{v: v}, nil
}

type jsonPathDocument struct {
	v interface{}
}

func (j jsonPathDocument) Lookup(path string) (string, bool) {
	got, err := jsonpath.Get(path, j.v)
	if err != nil {
		return "", false
	}
	if arr, ok := got.([]interface{}); ok {
		if len(arr) == 0 {
			return "", false
		}
		got = arr[0]
	}
	var s string
	switch t := got.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return "", false
	default:
		s = fmt.Sprint(t)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
