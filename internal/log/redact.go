package log

import (
	"net/url"
	"regexp"
	"strings"
)

// MaskValue replaces redacted values.
const MaskValue = "***REDACTED***"

// secretKeys are attribute keys and query parameter names that always
// carry a secret.
var secretKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"api_key":             true,
	"apikey":              true,
	"api-key":             true,
	"key":                 true,
	"access_token":        true,
	"token":               true,
	"password":            true,
	"secret":              true,
}

// secretKeywords mark a key as secret when contained anywhere in it.
// A bare "key" is not among them: "company_key" or "cache_key" are fine.
var secretKeywords = []string{
	"password", "secret", "token", "apikey", "api_key", "credential", "authorization",
}

// secretValues match values that are secrets regardless of their key.
var secretValues = []*regexp.Regexp{
	// Firecrawl and Tavily keys.
	regexp.MustCompile(`^fc-[A-Za-z0-9]{16,}$`),
	regexp.MustCompile(`^tvly-[A-Za-z0-9-]{16,}$`),
	regexp.MustCompile(`(?i)^bearer\s+\S+`),
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
}

// secretInText finds provider keys embedded in free text such as error
// messages that echo a request.
var secretInText = regexp.MustCompile(`\b(fc|tvly)-[A-Za-z0-9-]{16,}\b|(?i:bearer)\s+[A-Za-z0-9._~+/=-]{8,}`)

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	if secretKeys[k] {
		return true
	}
	for _, kw := range secretKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

func isSecretValue(v string) bool {
	for _, re := range secretValues {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Redact returns v with secrets removed. URLs lose secret query
// parameters and user info, other text loses embedded provider keys.
func Redact(v string) string {
	if isSecretValue(v) {
		return MaskValue
	}
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		if cleaned, ok := redactURL(v); ok {
			return cleaned
		}
	}
	return secretInText.ReplaceAllString(v, MaskValue)
}

func redactURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	changed := false
	if u.User != nil {
		u.User = nil
		changed = true
	}
	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if isSecretKey(name) {
				q.Set(name, MaskValue)
				changed = true
			}
		}
		if changed {
			// Encode would escape the mask; keep it readable.
			u.RawQuery = strings.ReplaceAll(q.Encode(), url.QueryEscape(MaskValue), MaskValue)
		}
	}
	if !changed {
		return raw, true
	}
	return u.String(), true
}
