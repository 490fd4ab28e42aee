package cubeengine

import "time"

// EngineConfig consolidates engine-wide settings.
type EngineConfig struct {
	Query   QueryConfig   `json:"query"`
	Flow    FlowConfig    `json:"flow"`
	Logging LoggingConfig `json:"logging"`
}

// QueryConfig contains query planning/execution settings.
type QueryConfig struct {
	DefaultTimeout     time.Duration `json:"defaultTimeout"`
	MaxRows            int           `json:"maxRows"`
	DefaultLimit       int           `json:"defaultLimit"`
	MaxLimit           int           `json:"maxLimit"`
	EnableOptimization bool          `json:"enableOptimization"`
}

// FlowConfig contains flow-query planning settings.
type FlowConfig struct {
	MaxStepsBefore            int `json:"maxStepsBefore"`
	MaxStepsAfter             int `json:"maxStepsAfter"`
	DefaultEntityLimit        int `json:"defaultEntityLimit"`
	HighDepthWarningThreshold int `json:"highDepthWarningThreshold"`
}

// LoggingConfig contains zap-level logging settings.
type LoggingConfig struct {
	Level string `json:"level"`
}

// DefaultEngineConfig returns the zero-config defaults the factory applies
// when the embedder doesn't supply its own.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Query: QueryConfig{
			DefaultTimeout:     30 * time.Second,
			MaxRows:            100_000,
			DefaultLimit:       10_000,
			MaxLimit:           50_000,
			EnableOptimization: true,
		},
		Flow: FlowConfig{
			MaxStepsBefore:            5,
			MaxStepsAfter:             5,
			DefaultEntityLimit:        10_000,
			HighDepthWarningThreshold: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *EngineConfig) Validate() error {
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return &ConfigError{Field: "query.maxLimit", Message: "must be >= query.defaultLimit"}
	}
	if c.Flow.MaxStepsBefore < 0 || c.Flow.MaxStepsBefore > 5 {
		return &ConfigError{Field: "flow.maxStepsBefore", Message: "must be within [0, 5]"}
	}
	if c.Flow.MaxStepsAfter < 0 || c.Flow.MaxStepsAfter > 5 {
		return &ConfigError{Field: "flow.maxStepsAfter", Message: "must be within [0, 5]"}
	}
	return nil
}

// ConfigError reports an invalid EngineConfig field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cubeengine: invalid config field " + e.Field + ": " + e.Message
}
