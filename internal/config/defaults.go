package config

import (
	"os"
	"path/filepath"
	"strings"

	"whisper-desk/internal/domain"
)

const (
	defaultTimeoutSeconds = 60
	defaultUserAgent      = "whisper-desk"
)

// AppDir returns the per-user application directory.
func AppDir(homeDir string) string {
	return filepath.Join(homeDir, ".whisper-desk")
}

// DefaultSettingsPath returns the settings file location under the user home.
func DefaultSettingsPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(AppDir(homeDir), "settings.json"), nil
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelsDir:   filepath.Join(AppDir(homeDir), "models"),
		HistoryFile: filepath.Join(AppDir(homeDir), "history.db"),
		Network: domain.NetworkSettings{
			TimeoutSeconds: defaultTimeoutSeconds,
			UserAgent:      defaultUserAgent,
		},
		Logging: domain.LoggingSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize trims user input and fills empty fields from defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.ModelsDir = strings.TrimSpace(settings.ModelsDir)
	if settings.ModelsDir == "" {
		settings.ModelsDir = defaults.ModelsDir
	}
	dirs := make([]string, 0, len(settings.ExtraModelDirs))
	for _, dir := range settings.ExtraModelDirs {
		if d := strings.TrimSpace(dir); d != "" {
			dirs = append(dirs, d)
		}
	}
	settings.ExtraModelDirs = dirs
	settings.SelectedModel = strings.TrimSpace(settings.SelectedModel)
	settings.CatalogFile = strings.TrimSpace(settings.CatalogFile)
	settings.HistoryFile = strings.TrimSpace(settings.HistoryFile)
	if settings.HistoryFile == "" {
		settings.HistoryFile = defaults.HistoryFile
	}

	if settings.Network.TimeoutSeconds <= 0 {
		settings.Network.TimeoutSeconds = defaults.Network.TimeoutSeconds
	}
	settings.Network.UserAgent = strings.TrimSpace(settings.Network.UserAgent)
	if settings.Network.UserAgent == "" {
		settings.Network.UserAgent = defaults.Network.UserAgent
	}
	settings.Logging.Level = strings.ToLower(strings.TrimSpace(settings.Logging.Level))
	if settings.Logging.Level == "" {
		settings.Logging.Level = defaults.Logging.Level
	}
	settings.Logging.Format = strings.ToLower(strings.TrimSpace(settings.Logging.Format))
	if settings.Logging.Format == "" {
		settings.Logging.Format = defaults.Logging.Format
	}
	settings.Metrics.TextfilePath = strings.TrimSpace(settings.Metrics.TextfilePath)
	return settings
}
