// Package registry holds the static mapping from commodity to provider and
// resolves each provider's extraction strategy once, at load time.
package registry

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
)

//go:embed providers.yaml
var defaultProviders []byte

const (
	defaultDateLayout       = "02/01/2006"
	defaultDecimalSeparator = ","
)

// Provider is a configured provider with its extraction strategy resolved.
type Provider struct {
	Commodity domain.Commodity
	Details   domain.ProviderDetails
	Extractor Extractor
}

type Options struct {
	DefaultSchedule string
}

type Registry struct {
	providers map[domain.Commodity]Provider
}

type file struct {
	Providers map[string]domain.ProviderDetails `yaml:"providers"`
}

// Load reads the registry from path, or from the embedded defaults when path is empty.
func Load(path string, opts Options) (*Registry, error) {
	data := defaultProviders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("erro ao ler arquivo de provedores: %w", err)
		}
		data = b
	}
	return Parse(data, opts)
}

func Parse(data []byte, opts Options) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("erro ao parsear provedores: %w", err)
	}

	info := make(domain.ProviderInfo, len(f.Providers))
	for name, d := range f.Providers {
		c, err := domain.ParseCommodity(name)
		if err != nil {
			return nil, err
		}
		info[c] = d
	}
	return New(info, opts)
}

// New validates info and resolves every provider's extractor.
func New(info domain.ProviderInfo, opts Options) (*Registry, error) {
	if opts.DefaultSchedule == "" {
		opts.DefaultSchedule = "@every 1h"
	}

	r := &Registry{providers: make(map[domain.Commodity]Provider, len(info))}
	ids := make(map[string]domain.Commodity, len(info))

	for c, d := range info {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: commodity desconhecida %q", domain.ErrValidation, c)
		}

		d = withDefaults(d, c, opts)
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("provedor %s (%s): %w", d.ID, c, err)
		}
		if other, dup := ids[d.ID]; dup {
			return nil, fmt.Errorf("id de provedor duplicado %q (%s, %s)", d.ID, other, c)
		}
		ids[d.ID] = c

		x, ok := extractorFor(d.Strategy)
		if !ok {
			return nil, fmt.Errorf("provedor %s: estratégia desconhecida %q (disponíveis: %s)",
				d.ID, d.Strategy, strings.Join(Strategies(), ", "))
		}

		r.providers[c] = Provider{Commodity: c, Details: d, Extractor: x}
	}

	return r, nil
}

func withDefaults(d domain.ProviderDetails, c domain.Commodity, opts Options) domain.ProviderDetails {
	if d.ID == "" {
		d.ID = string(c)
	}
	if d.Strategy == "" {
		d.Strategy = StrategyHTML
	}
	d.Strategy = strings.ToLower(strings.TrimSpace(d.Strategy))
	if d.DateLayout == "" {
		d.DateLayout = defaultDateLayout
	}
	if d.DecimalSeparator == "" {
		d.DecimalSeparator = defaultDecimalSeparator
	}
	if d.Schedule == "" {
		d.Schedule = opts.DefaultSchedule
	}
	d.State = domain.NormalizeState(d.State)
	d.City = strings.TrimSpace(d.City)
	return d
}

func validate(d domain.ProviderDetails) error {
	u, err := url.Parse(d.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url inválida %q", d.URL)
	}
	if strings.TrimSpace(d.Tag) == "" {
		return fmt.Errorf("tag obrigatória")
	}
	if d.DecimalSeparator != "," && d.DecimalSeparator != "." {
		return fmt.Errorf("separador decimal inválido %q", d.DecimalSeparator)
	}
	if d.StateTag == "" && !domain.ValidState(d.State) {
		return fmt.Errorf("estado inválido %q", d.State)
	}
	if _, err := cron.ParseStandard(d.Schedule); err != nil {
		return fmt.Errorf("agenda inválida %q: %w", d.Schedule, err)
	}
	return nil
}

// Lookup returns the provider for c. Commodities without a provider are not an error.
func (r *Registry) Lookup(c domain.Commodity) (Provider, bool) {
	p, ok := r.providers[c]
	return p, ok
}

// Providers returns every configured provider ordered by commodity.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commodity < out[j].Commodity })
	return out
}

func (r *Registry) Info() domain.ProviderInfo {
	info := make(domain.ProviderInfo, len(r.providers))
	for c, p := range r.providers {
		info[c] = p.Details
	}
	return info
}

func (r *Registry) Len() int {
	return len(r.providers)
}
