package config

// Allocation credits a genesis balance on the reference ledger.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

// LogConfig controls structured logging output. A non-empty File enables
// rotated file output in addition to stdout.
type LogConfig struct {
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Endpoint string            `toml:"Endpoint"`
	Insecure bool              `toml:"Insecure"`
	Headers  map[string]string `toml:"Headers"`
	Traces   bool              `toml:"Traces"`
	Metrics  bool              `toml:"Metrics"`
}

// MetricsConfig points batch runs at a Prometheus Pushgateway.
type MetricsConfig struct {
	PushURL string `toml:"PushURL"`
	Job     string `toml:"Job"`
}

// IndexerConfig selects the SQL projection database.
type IndexerConfig struct {
	DSN string `toml:"DSN"`
}
