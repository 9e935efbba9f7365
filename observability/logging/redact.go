package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output. It matches the marker used by
// url.URL.Redacted.
const RedactedValue = "xxxxx"

var dsnSecretKeys = map[string]struct{}{
	"password":    {},
	"pass":        {},
	"sslpassword": {},
}

func isDSNSecret(key string) bool {
	_, ok := dsnSecretKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactDSN masks the credentials in a projection database DSN and keeps the
// host, database and options readable. Postgres URLs lose the userinfo
// password and secret query parameters, keyword/value DSNs lose their
// password keywords, and sqlite paths are returned unchanged.
func RedactDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return RedactedValue
		}
		q := u.Query()
		masked := false
		for key := range q {
			if isDSNSecret(key) {
				q.Set(key, RedactedValue)
				masked = true
			}
		}
		if masked {
			u.RawQuery = q.Encode()
		}
		return u.Redacted()
	}
	fields := strings.Fields(trimmed)
	for _, field := range fields {
		if !strings.Contains(field, "=") {
			return trimmed
		}
	}
	for i, field := range fields {
		key, _, _ := strings.Cut(field, "=")
		if isDSNSecret(key) {
			fields[i] = key + "=" + RedactedValue
		}
	}
	return strings.Join(fields, " ")
}

// DSNField returns a log attribute carrying the redacted form of dsn.
func DSNField(key, dsn string) slog.Attr {
	return slog.String(key, RedactDSN(dsn))
}
