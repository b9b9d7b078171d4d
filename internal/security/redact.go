// Package security masks credentials before they reach logs or output.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitiveKeys are query parameter names whose values are masked.
var sensitiveKeys = map[string]bool{
	"api_key":      true,
	"apikey":       true,
	"key":          true,
	"secret":       true,
	"password":     true,
	"token":        true,
	"access_token": true,
	"auth_token":   true,
	"signature":    true,
}

// sensitivePatterns match credentials embedded in free text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|api[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer|password)([=:\s]+["']?)([^\s"'&]+)`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`),         // OpenAI keys
	regexp.MustCompile(`\bbot[0-9]+:[A-Za-z0-9_-]{10,}`), // Telegram bot URLs
}

// MaskCredential keeps at most the first and last four characters of
// value.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	if len(value) <= 12 {
		return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskString masks credential patterns inside input.
func MaskString(input string) string {
	result := sensitivePatterns[0].ReplaceAllStringFunc(input, func(match string) string {
		m := sensitivePatterns[0].FindStringSubmatch(match)
		return m[1] + m[2] + MaskCredential(m[3])
	})
	for _, pattern := range sensitivePatterns[1:] {
		result = pattern.ReplaceAllStringFunc(result, MaskCredential)
	}
	return result
}

// MaskURL masks the password, sensitive query values and path segments
// that look like tokens. Unparseable input is masked as text.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskString(raw)
	}

	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k, vals := range q {
			if !sensitiveKeys[strings.ToLower(k)] {
				continue
			}
			for i := range vals {
				vals[i] = MaskCredential(vals[i])
			}
		}
		u.RawQuery = q.Encode()
	}

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if looksLikeToken(seg) {
			segments[i] = MaskCredential(seg)
		}
	}
	u.Path = strings.Join(segments, "/")
	u.RawPath = ""

	out := u.String()
	// url.String escapes the mask characters.
	return strings.ReplaceAll(out, "%2A", "*")
}

// looksLikeToken reports whether a path segment is long and mixes letters
// with digits, as webhook tokens do.
func looksLikeToken(seg string) bool {
	if len(seg) < 16 {
		return false
	}
	var letters, digits bool
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letters = true
		case r == '-' || r == '_' || r == ':':
		default:
			return false
		}
	}
	return letters && digits
}
