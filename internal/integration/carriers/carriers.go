// Package carriers registers the built-in carrier catalog.
package carriers

import (
	"carrierlink/internal/integration"
	"carrierlink/internal/integration/generic"
	"carrierlink/internal/integration/maersk"
	"carrierlink/internal/integration/msc"
)

// genericCarrier is a catalog entry served by the configuration-driven adapter.
type genericCarrier struct {
	id, name, baseURL, auth, docs string
	rateLimit                     int
	apiKeyHeader                  string
}

var genericCatalog = []genericCarrier{
	{id: "CMDU", name: "CMA CGM", baseURL: "https://apis.cma-cgm.net/operation", auth: "api-key", apiKeyHeader: "KeyId", docs: "https://api-portal.cma-cgm.com", rateLimit: 120},
	{id: "HLCU", name: "Hapag-Lloyd", baseURL: "https://api.hlag.com/hlag/external/v2", auth: "oauth2", docs: "https://api-portal.hlag.com", rateLimit: 100},
	{id: "ONEY", name: "Ocean Network Express", baseURL: "https://api.one-line.com/v1", auth: "basic", docs: "https://www.one-line.com", rateLimit: 60},
	{id: "COSU", name: "COSCO Shipping", baseURL: "https://api.coscoshipping.com/v1", auth: "api-key", docs: "https://synconhub.coscoshipping.com", rateLimit: 60},
	{id: "EGLV", name: "Evergreen Line", baseURL: "https://api.evergreen-line.com/v1", auth: "api-key", docs: "https://www.shipmentlink.com", rateLimit: 60},
}

func (g genericCarrier) defaults() integration.Config {
	return integration.Config{
		CarrierID:         g.id,
		Name:              g.name,
		BaseURL:           g.baseURL,
		AuthMethod:        g.auth,
		DataFormat:        "json",
		RequestsPerMinute: g.rateLimit,
		Credentials:       integration.Credentials{APIKeyHeader: g.apiKeyHeader},
	}
}

func (g genericCarrier) factory() integration.Factory {
	def := g.defaults()
	return func(cfg integration.Config, opts ...integration.Option) (integration.Carrier, error) {
		merged := def.Merge(cfg)
		if merged.Credentials.APIKeyHeader == "" {
			merged.Credentials.APIKeyHeader = def.Credentials.APIKeyHeader
		}
		return generic.New(merged, opts...)
	}
}

func (g genericCarrier) info() integration.Info {
	return integration.Info{
		ID:          g.id,
		Name:        g.name,
		Description: g.name + " via the configurable connector.",
		AuthMethod:  g.auth,
		DataFormats: []string{"json", "xml", "csv", "edi"},
		Operations:  []string{"trackShipment", "getSchedule", "createBooking", "getBooking", "uploadFile", "handleWebhook"},
		DocsURL:     g.docs,
		RateLimit:   g.rateLimit,
	}
}

// Register adds every built-in carrier to reg.
func Register(reg *integration.Registry) {
	reg.Register(maersk.CarrierID, maersk.Factory,
		func(integration.Config) integration.Transformer { return maersk.NewTransformer() }, maersk.Info())
	reg.Register(msc.CarrierID, msc.Factory,
		func(integration.Config) integration.Transformer { return msc.NewTransformer() }, msc.Info())
	for _, g := range genericCatalog {
		reg.Register(g.id, g.factory(), generic.TransformerFactory, g.info())
	}
}
