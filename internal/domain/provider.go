package domain

import "time"

// ProviderDetails configures where and how a commodity quote is scraped.
type ProviderDetails struct {
	ID               string            `yaml:"id" json:"id"`
	URL              string            `yaml:"url" json:"url"`
	Tag              string            `yaml:"tag" json:"tag"`
	DateTag          string            `yaml:"datetag,omitempty" json:"datetag,omitempty"`
	Strategy         string            `yaml:"strategy" json:"strategy"`
	DateLayout       string            `yaml:"datelayout,omitempty" json:"datelayout,omitempty"`
	DecimalSeparator string            `yaml:"decimal_separator,omitempty" json:"decimal_separator,omitempty"`
	State            string            `yaml:"state,omitempty" json:"state,omitempty"`
	City             string            `yaml:"city,omitempty" json:"city,omitempty"`
	StateTag         string            `yaml:"statetag,omitempty" json:"statetag,omitempty"`
	CityTag          string            `yaml:"citytag,omitempty" json:"citytag,omitempty"`
	Schedule         string            `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty" json:"-"`
}

// ProviderInfo maps commodities to their provider. Coverage may be partial.
type ProviderInfo map[Commodity]ProviderDetails

// Extra keys filled by extractors.
const (
	ExtraState = "state"
	ExtraCity  = "city"
)

// RawQuote is the unvalidated tuple produced by an extractor.
type RawQuote struct {
	Commodity  Commodity
	ProviderID string
	RawValue   string
	RawDate    string
	Extra      map[string]string
	FetchedAt  time.Time
}

// ProviderHealth is the fetcher's view of a provider.
type ProviderHealth struct {
	ProviderID          string     `json:"provider_id"`
	Commodity           Commodity  `json:"commodity"`
	Degraded            bool       `json:"degraded"`
	DegradedUntil       *time.Time `json:"degraded_until,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
}
