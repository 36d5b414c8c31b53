package feed

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameters masked before a feed URL is logged.
var sensitiveParams = map[string]bool{
	"token":        true,
	"access_token": true,
	"auth_token":   true,
	"api_key":      true,
	"apikey":       true,
	"key":          true,
	"secret":       true,
	"password":     true,
}

// redactURL masks the password and credential query parameters of raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if sensitiveParams[strings.ToLower(k)] {
				q.Set(k, "***")
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}
