package engine

import "time"

const (
	defaultMaxOutputBytes int64 = 64 << 20
	defaultMaxStderrBytes int64 = 64 << 10
	defaultSampleInterval       = 10 * time.Millisecond
	defaultWaitDelay            = time.Second
)

// Config controls engine behavior.
type Config struct {
	// MaxOutputBytes caps captured stdout; the rest is drained and discarded.
	MaxOutputBytes int64 `yaml:"maxOutputBytes"`
	// MaxStderrBytes caps captured stderr.
	MaxStderrBytes int64 `yaml:"maxStderrBytes"`
	// SampleInterval is the resident memory polling period.
	SampleInterval time.Duration `yaml:"sampleInterval"`
	// WaitDelay bounds how long pipes are drained after the process exits.
	WaitDelay time.Duration `yaml:"waitDelay"`
	// Env is appended to the inherited environment.
	Env []string `yaml:"env"`
}

func (c Config) withDefaults() Config {
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.MaxStderrBytes <= 0 {
		c.MaxStderrBytes = defaultMaxStderrBytes
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = defaultSampleInterval
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = defaultWaitDelay
	}
	return c
}
