package config

const (
	defaultConfigPath         = "~/.config/sceneplus/config.toml"
	defaultConfigDir          = "~/.homeassistant"
	defaultScenesFile         = "scenes.yaml"
	defaultStateDir           = "~/.local/share/sceneplus"
	defaultAPIBind            = "127.0.0.1:7489"
	defaultHomeAssistantURL   = "http://127.0.0.1:8123"
	defaultHATimeoutSeconds   = 10
	defaultLockTimeoutSeconds = 30
	defaultJournalFile        = "journal.db"
	defaultJournalRetention   = 90
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// DefaultExcludeAttributes lists runtime linkage fields that are never
// persisted into a scene.
var DefaultExcludeAttributes = []string{"device_id", "area_id", "zone_id"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ConfigDir:  defaultConfigDir,
			ScenesFile: defaultScenesFile,
			StateDir:   defaultStateDir,
			APIBind:    defaultAPIBind,
		},
		HomeAssistant: HomeAssistant{
			URL:            defaultHomeAssistantURL,
			TimeoutSeconds: defaultHATimeoutSeconds,
		},
		Scenes: Scenes{
			ExcludeAttributes:  append([]string(nil), DefaultExcludeAttributes...),
			AdvisoryLock:       true,
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
		},
		Journal: Journal{
			Enabled:       true,
			RetentionDays: defaultJournalRetention,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
