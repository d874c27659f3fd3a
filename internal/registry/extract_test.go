package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
)

var fixedNow = time.Date(2024, 1, 6, 12, 0, 0, 0, time.UTC)

const cotacaoHTML = `<html><body>
<div class="cotacao"><div class="info"><div class="fechamento">Fechamento: 05/01/2024</div></div></div>
<table class="cot-fisicas"><tbody>
  <tr><td>05/01/2024</td><td> R$ 245,30 </td><td>+0,45</td></tr>
  <tr><td>04/01/2024</td><td>244,20</td><td>-0,10</td></tr>
</tbody></table>
<span class="uf">sp</span>
</body></html>`

func provider(strategy string, d domain.ProviderDetails) Provider {
	x, _ := extractorFor(strategy)
	d.Strategy = strategy
	if d.ID == "" {
		d.ID = "teste"
	}
	return Provider{Commodity: domain.CommodityBoi, Details: d, Extractor: x}
}

func TestHTMLExtract(t *testing.T) {
	p := provider(StrategyHTML, domain.ProviderDetails{
		Tag:      "table.cot-fisicas tbody tr:first-child td:nth-child(2)",
		DateTag:  "div.fechamento",
		StateTag: "span.uf",
		City:     "Araçatuba",
	})

	raw, err := p.Extract([]byte(cotacaoHTML), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "R$ 245,30", raw.RawValue)
	assert.Equal(t, "Fechamento: 05/01/2024", raw.RawDate)
	assert.Equal(t, "sp", raw.Extra[domain.ExtraState])
	assert.Equal(t, "Araçatuba", raw.Extra[domain.ExtraCity])
	assert.Equal(t, domain.CommodityBoi, raw.Commodity)
	assert.Equal(t, fixedNow, raw.FetchedAt)
}

func TestHTMLExtractMissingSelector(t *testing.T) {
	p := provider(StrategyHTML, domain.ProviderDetails{Tag: "table.inexistente td", State: "SP"})

	_, err := p.Extract([]byte(cotacaoHTML), fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestHTMLExtractMissingDate(t *testing.T) {
	p := provider(StrategyHTML, domain.ProviderDetails{
		Tag:     "table.cot-fisicas td:nth-child(2)",
		DateTag: "div.sem-data",
		State:   "SP",
	})

	_, err := p.Extract([]byte(cotacaoHTML), fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestJSONExtract(t *testing.T) {
	body := []byte(`{"data":[{"preco":"132,50","data":"2024-01-05","uf":"GO"}],"vazio":null}`)
	p := provider(StrategyJSON, domain.ProviderDetails{Tag: "data.0.preco", DateTag: "data.0.data", StateTag: "data.0.uf"})

	raw, err := p.Extract(body, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "132,50", raw.RawValue)
	assert.Equal(t, "2024-01-05", raw.RawDate)
	assert.Equal(t, "GO", raw.Extra[domain.ExtraState])

	p.Details.Tag = "vazio"
	_, err = p.Extract(body, fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)

	p.Details.Tag = "data.0.inexistente"
	_, err = p.Extract(body, fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestJSONExtractNumberAndInvalidBody(t *testing.T) {
	p := provider(StrategyJSON, domain.ProviderDetails{Tag: "valor", State: "MT"})

	raw, err := p.Extract([]byte(`{"valor": 131.75}`), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "131.75", raw.RawValue)

	_, err = p.Extract([]byte(`<html>erro</html>`), fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestJSONPathExtract(t *testing.T) {
	body := []byte(`{"cotacoes":[{"valor":98.4,"dia":"05/01/2024"}]}`)
	p := provider(StrategyJSONPath, domain.ProviderDetails{Tag: "$.cotacoes[0].valor", DateTag: "$.cotacoes[0].dia", State: "PR"})

	raw, err := p.Extract(body, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "98.4", raw.RawValue)
	assert.Equal(t, "05/01/2024", raw.RawDate)
	assert.Equal(t, "PR", raw.Extra[domain.ExtraState])

	p.Details.Tag = "$.cotacoes[0].preco"
	_, err = p.Extract(body, fixedNow)
	require.ErrorIs(t, err, domain.ErrParse)
}
