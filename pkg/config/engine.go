package config

import "fmt"

// CombineMode selects how multi-step plan outputs become the final answer.
type CombineMode string

const (
	// CombineAuto concatenates unless a retrieval step ran, then synthesizes.
	CombineAuto CombineMode = "auto"

	// CombineConcat joins per-step outputs under per-step headings.
	CombineConcat CombineMode = "concat"

	// CombineSynthesize runs an LLM pass over the per-step outputs.
	CombineSynthesize CombineMode = "synthesize"
)

// EngineConfig configures graph execution limits.
type EngineConfig struct {
	// MaxSteps is the hard ceiling on edge traversals per turn.
	MaxSteps int `yaml:"max_steps,omitempty" json:"max_steps,omitempty" jsonschema:"title=Max Steps,description=Edge traversal ceiling per turn,minimum=1,default=32"`

	// TurnTimeout bounds one user turn end to end.
	TurnTimeout Duration `yaml:"turn_timeout,omitempty" json:"turn_timeout,omitempty" jsonschema:"title=Turn Timeout,description=End-to-end turn deadline,default=120s"`

	// KeepLast is how many recent messages survive summarization.
	KeepLast int `yaml:"keep_last,omitempty" json:"keep_last,omitempty" jsonschema:"title=Keep Last,description=Recent messages kept verbatim,minimum=1,default=3"`

	// Combine selects final-answer assembly for multi-step plans.
	Combine CombineMode `yaml:"combine,omitempty" json:"combine,omitempty" jsonschema:"title=Combine,description=Multi-step answer assembly,enum=auto,enum=concat,enum=synthesize,default=auto"`

	// Workers sizes the pool for blocking CPU work (tokenization, lexical
	// scoring). Zero means runtime.NumCPU.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty" jsonschema:"title=Workers,description=Worker pool size for CPU-bound work,minimum=0"`
}

// SetDefaults applies default values.
func (c *EngineConfig) SetDefaults() {
	if c.MaxSteps == 0 {
		c.MaxSteps = 32
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = Seconds(120)
	}
	if c.KeepLast == 0 {
		c.KeepLast = 3
	}
	if c.Combine == "" {
		c.Combine = CombineAuto
	}
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be positive, got %d", c.MaxSteps)
	}
	if c.KeepLast < 1 {
		return fmt.Errorf("keep_last must be positive, got %d", c.KeepLast)
	}
	switch c.Combine {
	case CombineAuto, CombineConcat, CombineSynthesize:
	default:
		return fmt.Errorf("invalid combine mode %q (valid: auto, concat, synthesize)", c.Combine)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	return nil
}

// SessionConfig configures session bookkeeping.
type SessionConfig struct {
	// MaxSessions caps concurrently held sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions,omitempty" json:"max_sessions,omitempty" jsonschema:"title=Max Sessions,description=Concurrent session cap (0 = unlimited),minimum=0"`

	// IdleTTL evicts sessions idle longer than this. Zero disables eviction.
	IdleTTL Duration `yaml:"idle_ttl,omitempty" json:"idle_ttl,omitempty" jsonschema:"title=Idle TTL,description=Idle session eviction window (0 = never)"`
}

// SetDefaults applies default values.
func (c *SessionConfig) SetDefaults() {}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	if c.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be non-negative, got %d", c.MaxSessions)
	}
	return nil
}
