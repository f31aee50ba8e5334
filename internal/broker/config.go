package broker

import "time"

// Config tunes the REST client's endpoints, retry policy, and the
// business-error allowlist that §9's Open Question 3 asked to make a knob
// instead of a literal.
type Config struct {
	BaseURLPaper string
	BaseURLLive  string
	MaxRetries   int
	Timeout      time.Duration

	// RetryableBusinessCodes lists msg_cd values that are safe to retry with
	// a 2*attempt backoff, in addition to the always-retryable EGW00201 rate
	// limit code. Defaults to {"EGW00201"} alone; callers append their own
	// observed transient codes.
	RetryableBusinessCodes []string
}

// DefaultConfig returns the spec-mandated defaults: R=3 retries, 10s
// per-attempt timeout, KIS's published paper/live hosts.
func DefaultConfig() Config {
	return Config{
		BaseURLPaper:           "https://openapivts.koreainvestment.com:29443",
		BaseURLLive:            "https://openapi.koreainvestment.com:9443",
		MaxRetries:             3,
		Timeout:                10 * time.Second,
		RetryableBusinessCodes: []string{"EGW00201"},
	}
}

func (c Config) retryableBusinessCode(code string) bool {
	for _, rc := range c.RetryableBusinessCodes {
		if rc == code {
			return true
		}
	}
	return false
}
