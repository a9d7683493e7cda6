package model

// RetryConfig represents status fetch retry configuration
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialDelayMs int     `json:"initial_delay_ms" env:"INITIAL_DELAY_MS" envDefault:"1000"`
	MaxDelayMs     int     `json:"max_delay_ms" env:"MAX_DELAY_MS" envDefault:"30000"`
	Multiplier     float64 `json:"multiplier" env:"MULTIPLIER" envDefault:"2"`
}

// SetDefaults sets default values for retry configuration
func (rc *RetryConfig) SetDefaults() {
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelayMs == 0 {
		rc.InitialDelayMs = 1000
	}
	if rc.MaxDelayMs == 0 {
		rc.MaxDelayMs = 30000
	}
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
}
