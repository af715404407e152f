package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inclusa/wcag-audit/internal/audit"
)

func TestLoadRequiresAPIKey(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, audit.IsCode(err, audit.CodeConfigMissing))
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("AUDIT_MODEL_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gpt-4-turbo-preview", cfg.Model.Name)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 32, cfg.Model.GlobalConcurrency)
	assert.Equal(t, 5, cfg.Crawler.MaxPagesDefault)
	assert.Equal(t, 12, cfg.Jobs.ModuleConcurrency)
	assert.False(t, cfg.Headless.Enabled)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_MODEL_API_KEY", "sk-test")
	t.Setenv("AUDIT_SERVER_PORT", "9090")
	t.Setenv("AUDIT_CRAWLER_MAX_PAGES_DEFAULT", "10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Crawler.MaxPagesDefault)
}

func TestMaxPagesFor(t *testing.T) {
	t.Parallel()

	c := CrawlerConfig{MaxPagesDefault: 5}

	assert.Equal(t, 5, c.MaxPagesFor(audit.PlanBasic, 0))
	assert.Equal(t, 3, c.MaxPagesFor(audit.PlanBasic, 3))
	assert.Equal(t, 5, c.MaxPagesFor(audit.PlanBasic, 50))
	assert.Equal(t, 10, c.MaxPagesFor(audit.PlanPro, 0))
	assert.Equal(t, 20, c.MaxPagesFor(audit.PlanEnterprise, 0))
	assert.Equal(t, 7, c.MaxPagesFor(audit.PlanEnterprise, 7))
}
