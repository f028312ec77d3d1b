package logger

// Config describes one named logger in log.config.json.
type Config struct {
	Level        string       `json:"level"`
	Encoding     string       `json:"encoding"` // json | console
	OutputPaths  []string     `json:"outputPaths"`
	LogToConsole bool         `json:"logToConsole"`
	Development  bool         `json:"development"`
	TimeEncoder  string       `json:"timeEncoder"`
	Rotation     Rotation     `json:"logRotation"`
	Sanitization Sanitization `json:"sanitization"`
	Async        Async        `json:"async"`
}

// Rotation configures lumberjack for file outputs.
type Rotation struct {
	Enabled    bool `json:"enabled"`
	MaxSizeMB  int  `json:"maxSizeMB"`
	MaxBackups int  `json:"maxBackups"`
	MaxAgeDays int  `json:"maxAgeDays"`
	Compress   bool `json:"compress"`
}

// Sanitization lists field keys whose values never reach an encoder.
type Sanitization struct {
	SensitiveFields []string `json:"sensitiveFields"`
	Mask            string   `json:"mask"`
}

// Async configures batching of file writes.
type Async struct {
	BufferSize      int `json:"bufferSize"`
	BatchSize       int `json:"batchSize"`
	FlushIntervalMS int `json:"flushIntervalMs"`
}

// DefaultConfig is used for any logger not present in log.config.json.
var DefaultConfig = Config{
	Level:        "info",
	Encoding:     "json",
	OutputPaths:  []string{"stdout"},
	LogToConsole: true,
	TimeEncoder:  "iso8601",
	Rotation: Rotation{
		Enabled:    true,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
		Compress:   true,
	},
	Sanitization: Sanitization{
		SensitiveFields: []string{
			"password",
			"old_password",
			"new_password",
			"token",
			"reset_token",
			"authorization",
		},
		Mask: "****",
	},
	Async: Async{
		BufferSize:      1000,
		BatchSize:       100,
		FlushIntervalMS: 500,
	},
}

func applyDefaults(cfg *Config) {
	if cfg.Level == "" {
		cfg.Level = DefaultConfig.Level
	}
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultConfig.Encoding
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = DefaultConfig.OutputPaths
	}
	if cfg.TimeEncoder == "" {
		cfg.TimeEncoder = DefaultConfig.TimeEncoder
	}
	if cfg.Rotation.MaxSizeMB == 0 {
		cfg.Rotation.MaxSizeMB = DefaultConfig.Rotation.MaxSizeMB
	}
	if cfg.Rotation.MaxBackups == 0 {
		cfg.Rotation.MaxBackups = DefaultConfig.Rotation.MaxBackups
	}
	if cfg.Rotation.MaxAgeDays == 0 {
		cfg.Rotation.MaxAgeDays = DefaultConfig.Rotation.MaxAgeDays
	}
	// credentials are always masked, even when a config lists its own fields
	if cfg.Sanitization.Mask == "" {
		cfg.Sanitization.Mask = DefaultConfig.Sanitization.Mask
	}
	cfg.Sanitization.SensitiveFields = mergeFields(DefaultConfig.Sanitization.SensitiveFields, cfg.Sanitization.SensitiveFields)
	if cfg.Async.BufferSize == 0 {
		cfg.Async.BufferSize = DefaultConfig.Async.BufferSize
	}
	if cfg.Async.BatchSize == 0 {
		cfg.Async.BatchSize = DefaultConfig.Async.BatchSize
	}
	if cfg.Async.FlushIntervalMS == 0 {
		cfg.Async.FlushIntervalMS = DefaultConfig.Async.FlushIntervalMS
	}
}

func mergeFields(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, f := range list {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
