package carriers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrierlink/internal/integration"
)

func TestRegisterCatalog(t *testing.T) {
	reg := integration.NewRegistry()
	Register(reg)
	assert.Equal(t, []string{"CMDU", "COSU", "EGLV", "HLCU", "MAEU", "MSCU", "ONEY"}, reg.List())

	info, err := reg.Describe("hlcu")
	require.NoError(t, err)
	assert.Equal(t, "Hapag-Lloyd", info.Name)
	assert.Equal(t, "oauth2", info.AuthMethod)
}

func TestGenericFactoryKeepsCatalogDefaults(t *testing.T) {
	reg := integration.NewRegistry()
	Register(reg)

	c, err := reg.CreateIntegration("CMDU", integration.Config{Credentials: integration.Credentials{APIKey: "k"}})
	require.NoError(t, err)
	cfg := c.Base().Config()
	assert.Equal(t, "CMA CGM", c.Name())
	assert.Equal(t, "https://apis.cma-cgm.net/operation", cfg.BaseURL)
	assert.Equal(t, "KeyId", cfg.Credentials.APIKeyHeader, "operator credentials keep the catalog header")
	assert.Equal(t, 120, cfg.RequestsPerMinute)

	c, err = reg.CreateIntegration("EGLV", integration.Config{BaseURL: "https://sandbox.example.test", DataFormat: "xml"})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.example.test", c.Base().Config().BaseURL)
	assert.Equal(t, "xml", c.Base().Config().DataFormat)
}
