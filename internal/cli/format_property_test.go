package cli

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"trinity-trader/internal/verifier"
)

// TruncateString never exceeds the limit and keeps a prefix of the input.
func TestPropertyTruncateString(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("result fits and preserves prefix", prop.ForAll(
		func(s string, maxLen int) bool {
			got := TruncateString(s, maxLen)
			if utf8.RuneCountInString(got) > maxLen {
				t.Logf("TruncateString(%q, %d) = %q is too long", s, maxLen, got)
				return false
			}
			if utf8.RuneCountInString(s) <= maxLen {
				return got == s
			}
			head := strings.TrimSuffix(got, "...")
			return strings.HasPrefix(s, head)
		},
		gen.AlphaString(),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t)
}

// Every known metric with any finite value parses back to the same claim.
func TestPropertyParseClaimsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("metric=value parses to the same pair", prop.ForAll(
		func(metric string, value float64, upper bool) bool {
			name := metric
			if upper {
				name = strings.ToUpper(metric)
			}
			claims, err := ParseClaims([]string{fmt.Sprintf("%s=%v", name, value)})
			if err != nil {
				t.Logf("ParseClaims(%s=%v) error = %v", name, value, err)
				return false
			}
			return len(claims) == 1 && claims[metric] == value
		},
		gen.OneConstOf(stringsToAny(verifier.Metrics())...),
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
	))

	properties.Property("unknown metrics are rejected", prop.ForAll(
		func(name string) bool {
			for _, m := range verifier.Metrics() {
				if strings.EqualFold(m, name) {
					return true
				}
			}
			_, err := ParseClaims([]string{name + "=1"})
			return err != nil
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// Color codes never count towards column width.
func TestPropertyVisibleLenIgnoresColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	properties := gopter.NewProperties(nil)

	properties.Property("colored text has the plain width", prop.ForAll(
		func(s string) bool {
			return visibleLen(green.Sprint(s)) == utf8.RuneCountInString(s) &&
				visibleLen(bold.Sprint(s)) == utf8.RuneCountInString(s)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
