package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"trinity-trader/internal/analysis"
	"trinity-trader/internal/models"
	"trinity-trader/internal/verifier"
)

// FormatTime formats a timestamp in UTC.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// FormatScore formats a confluence score.
func FormatScore(score int) string {
	return fmt.Sprintf("%d/100", score)
}

// FormatAgreement formats an agreement ratio as a percentage.
func FormatAgreement(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}

// FormatConfidence formats a confidence percentage.
func FormatConfidence(conf float64) string {
	return fmt.Sprintf("%.0f%%", conf)
}

// FormatOptional formats a possibly absent reading.
func FormatOptional(v *float64, decimals int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// ShortID returns the first block of a uuid for table display.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return TruncateString(id, 8)
}

// signalText colors a vote or consensus signal.
func (o *Output) signalText(s models.Signal) string {
	switch s {
	case models.SignalLong:
		return o.Green(string(s))
	case models.SignalShort:
		return o.Red(string(s))
	default:
		return o.Yellow(string(s))
	}
}

// statusText colors a confluence status.
func (o *Output) statusText(s analysis.ConfluenceStatus) string {
	switch s {
	case analysis.StatusLongSignal:
		return o.Green(string(s))
	case analysis.StatusShortSignal:
		return o.Red(string(s))
	case analysis.StatusFiltered:
		return o.DimText(string(s))
	default:
		return o.Yellow(string(s))
	}
}

// ParseClaims parses "metric=value" pairs. Metric names are lower-cased
// and must be known to the verifier.
func ParseClaims(pairs []string) (map[string]float64, error) {
	known := make(map[string]bool)
	for _, m := range verifier.Metrics() {
		known[m] = true
	}

	claims := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid claim %q: expected metric=value", pair)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if !known[name] {
			return nil, fmt.Errorf("unknown metric %q (known: %s)", name, strings.Join(verifier.Metrics(), ", "))
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		claims[name] = value
	}
	return claims, nil
}
