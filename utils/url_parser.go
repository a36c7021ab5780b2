package utils

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// ParseQuery parses a raw query string into lower-cased keys. Unlike
// url.ParseQuery an escaped ampersand (\&) does not split a pair, so
// filter expressions may contain && without percent-encoding.
func ParseQuery(query string) (url.Values, error) {
	m := make(url.Values)
	var firstErr error
	for _, pair := range splitQuery(query) {
		if len(pair) == 0 {
			continue
		}

		key, value := pair, ""
		if i := strings.Index(pair, "="); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		}
		value = strings.Replace(value, "\\&", "&", -1)

		key, err := url.QueryUnescape(key)
		if err == nil {
			value, err = url.QueryUnescape(value)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		key = strings.ToLower(key)
		m[key] = append(m[key], value)
	}
	return m, firstErr
}

func splitQuery(query string) []string {
	pairs := []string{}
	start := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '&' || (i > 0 && query[i-1] == '\\') {
			continue
		}
		pairs = append(pairs, query[start:i])
		start = i + 1
	}
	return append(pairs, query[start:])
}

// ParseRemoteAddr returns the client address of r, honouring the
// headers set by a reverse proxy.
func ParseRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); len(fwd) > 0 {
		client := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if len(client) > 0 {
			return client
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); len(realIP) > 0 {
		return realIP
	}

	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.JoinHostPort(host, port)
	}
	return r.RemoteAddr
}
