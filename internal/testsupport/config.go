package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"sceneplus/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options. The journal is
// disabled unless WithJournal is passed.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ConfigDir = filepath.Join(base, "homeassistant")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.HomeAssistant.URL = ""
	cfgVal.Scenes.LockTimeoutSeconds = 2
	cfgVal.Journal.Enabled = false
	cfgVal.Journal.Path = filepath.Join(base, "state", "journal.db")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := os.MkdirAll(builder.cfg.Paths.ConfigDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	return builder.cfg
}

// WithHomeAssistant points the test config at a fake Home Assistant.
func WithHomeAssistant(url, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.HomeAssistant.URL = url
		b.cfg.HomeAssistant.Token = token
	}
}

// WithJournal enables the update journal inside the temp state directory.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithAdvisoryLock toggles the cross-process lock on the scenes document.
func WithAdvisoryLock(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scenes.AdvisoryLock = enabled
	}
}

// WithAPIToken requires bearer authentication on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
