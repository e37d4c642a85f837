package realtime

import "time"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultMaxAttempts    = 5
	defaultEventBuffer    = 64
)

var defaultDelays = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	30 * time.Second,
}

type Config struct {
	Policy         Policy
	ConnectTimeout time.Duration
	EventBuffer    int
}

// Policy is the reconnect delay table and attempt budget.
type Policy struct {
	Delays      []time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		Delays:      append([]time.Duration(nil), defaultDelays...),
		MaxAttempts: defaultMaxAttempts,
	}
}

// Delay returns the wait before retry number attempt (0-based). The last
// entry of the table is reused once the table is exhausted.
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Delays) {
		attempt = len(p.Delays) - 1
	}
	return p.Delays[attempt]
}

func normalizeConfig(cfg Config) Config {
	if len(cfg.Policy.Delays) == 0 {
		cfg.Policy.Delays = append([]time.Duration(nil), defaultDelays...)
	}
	if cfg.Policy.MaxAttempts < 0 {
		cfg.Policy.MaxAttempts = 0
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return cfg
}
