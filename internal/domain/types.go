package domain

// ModelStatus tracks the local lifecycle of one model.
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusFailed        ModelStatus = "failed"
)

// ModelRuntimeState is the mutable per-model state owned by the catalog store.
type ModelRuntimeState struct {
	Status              ModelStatus `json:"status"`
	DownloadedSizeBytes int64       `json:"downloadedSizeBytes,omitempty"`
	Selected            bool        `json:"selected"`
	LastError           string      `json:"lastError,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelsDir      string          `json:"modelsDir"`
	ExtraModelDirs []string        `json:"extraModelDirs,omitempty"`
	SelectedModel  string          `json:"selectedModel"`
	CatalogFile    string          `json:"catalogFile,omitempty"`
	HistoryFile    string          `json:"historyFile"`
	Network        NetworkSettings `json:"network"`
	Logging        LoggingSettings `json:"logging"`
	Metrics        MetricsSettings `json:"metrics"`
}

// NetworkSettings configures the model download transport.
type NetworkSettings struct {
	TimeoutSeconds int    `json:"timeoutSeconds"`
	UserAgent      string `json:"userAgent"`
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsSettings configures the optional Prometheus textfile export.
type MetricsSettings struct {
	TextfilePath string `json:"textfilePath,omitempty"`
}
