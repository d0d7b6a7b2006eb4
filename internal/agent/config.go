package agent

import "fmt"

// Config describes one level-1 agent process before it is started. Only ID,
// Type, and at least one capability handler (added via AddCapability) are
// required; everything else has a sensible default.
type Config struct {
	ID                string
	Type              string
	Description       string
	Version           string
	HealthPort        string
	ConcurrentDispatch int
	HealthReportEvery string // duration string, e.g. "30s"
}

// WithDefaults returns a copy of c with empty fields filled in.
func (c Config) WithDefaults() Config {
	if c.Version == "" {
		c.Version = "1.0.0"
	}
	if c.ConcurrentDispatch <= 0 {
		c.ConcurrentDispatch = 1
	}
	if c.HealthReportEvery == "" {
		c.HealthReportEvery = "30s"
	}
	return c
}

// Validate reports whether required fields are present.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("agent config: ID is required")
	}
	if c.Type == "" {
		return fmt.Errorf("agent config: Type is required")
	}
	return nil
}
