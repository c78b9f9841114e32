// Package retry maps an attempt number and a strategy to the delay before
// the next automatic delivery attempt.
//
//	FIXED:       base
//	LINEAR:      base * n
//	EXPONENTIAL: base * 2^(n-1)
//
// With base=60: attempt 3 waits 60s (FIXED), 180s (LINEAR), 240s (EXPONENTIAL).
package retry

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// MaxDelaySeconds caps every computed delay (7 days)
const MaxDelaySeconds = 7 * 24 * 60 * 60

/* Strategy selects how delays grow between attempts
 * Zero is deliberately invalid so an unset policy fails validation
 */
type Strategy int

const (
	Fixed Strategy = iota + 1
	Linear
	Exponential
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case Fixed:
		return "FIXED"
	case Linear:
		return "LINEAR"
	case Exponential:
		return "EXPONENTIAL"
	default:
		return "UNKNOWN"
	}
}

// NewStrategy creates a Strategy from a string, case-insensitive.
// Unknown values yield an invalid Strategy that fails Validate.
func NewStrategy(str string) Strategy {
	switch strings.ToUpper(strings.TrimSpace(str)) {
	case "FIXED":
		return Fixed
	case "LINEAR":
		return Linear
	case "EXPONENTIAL":
		return Exponential
	default:
		return 0
	}
}

// Validate checks if the strategy is valid
func (s Strategy) Validate() error {
	if s < Fixed || s > Exponential {
		return fmt.Errorf("invalid retry strategy: %d", s)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Strategy) UnmarshalText(b []byte) error {
	v := NewStrategy(string(b))
	if err := v.Validate(); err != nil {
		return fmt.Errorf("parsing retry strategy %q: %w", string(b), err)
	}
	*s = v
	return nil
}

// Delay returns the number of seconds to wait after the given failed attempt.
// It is pure: no clock, no randomness.
func Delay(attempt int, strategy Strategy, baseDelaySeconds int) int {
	if attempt < 1 {
		attempt = 1
	}
	if baseDelaySeconds <= 0 {
		return 0
	}

	var d int64
	base := int64(baseDelaySeconds)
	switch strategy {
	case Linear:
		d = base * int64(attempt)
	case Exponential:
		shift := attempt - 1
		if shift > 32 {
			return MaxDelaySeconds
		}
		d = base << shift
	default:
		d = base
	}

	if d > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return int(d)
}

// Duration is Delay expressed as a time.Duration
func Duration(attempt int, strategy Strategy, baseDelaySeconds int) time.Duration {
	return time.Duration(Delay(attempt, strategy, baseDelaySeconds)) * time.Second
}

// Schedule lists the delays between automatic attempts for a policy with
// maxRetries total attempts. The slice has maxRetries-1 entries.
func Schedule(strategy Strategy, baseDelaySeconds, maxRetries int) []int {
	if maxRetries < 2 {
		return []int{}
	}
	out := make([]int, 0, maxRetries-1)
	for n := 1; n < maxRetries; n++ {
		out = append(out, Delay(n, strategy, baseDelaySeconds))
	}
	return out
}

// Jitter adds a bounded random extension to a delay so retries against the
// same host spread out. It never shortens a delay.
type Jitter struct {
	// Fraction of the delay used as the upper bound of the added time, clamped to [0, 1]
	Fraction float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Apply returns d plus a random duration in [0, Fraction*d)
func (j Jitter) Apply(d time.Duration) time.Duration {
	f := j.Fraction
	if f <= 0 || d <= 0 {
		return d
	}
	if f > 1 {
		f = 1
	}

	r := j.Rand
	if r == nil {
		r = rand.Float64
	}
	return d + time.Duration(float64(d)*f*r())
}
