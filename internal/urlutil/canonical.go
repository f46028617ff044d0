package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// RequestURL builds the absolute URL for a request. The rules are:
// 1. The scheme is https for secure requests and http otherwise.
// 2. The host is lowercased.
// 3. Default ports (80 for http, 443 for https) are omitted.
// 4. path may carry a query string, which is preserved as given.
// Returns an error if host is empty or path is not absolute.
func RequestURL(secure bool, host string, port int, path string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("host must not be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path must start with /: %q", path)
	}

	u := &url.URL{Scheme: "http"}
	if secure {
		u.Scheme = "https"
	}

	host = strings.ToLower(host)
	if (u.Scheme == "http" && port == 80) || (u.Scheme == "https" && port == 443) || port == 0 {
		u.Host = host
		if strings.Contains(host, ":") {
			u.Host = "[" + host + "]"
		}
	} else {
		u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	}

	rawPath, rawQuery, _ := strings.Cut(path, "?")
	u.Path = rawPath
	u.RawQuery = rawQuery
	return u.String(), nil
}

// Endpoint joins an API path with query parameters. Parameters are encoded in the
// order given so the resulting path is stable.
func Endpoint(path string, params ...string) string {
	if len(params) < 2 {
		return path
	}
	var sb strings.Builder
	sb.WriteString(path)
	for i := 0; i+1 < len(params); i += 2 {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(params[i]))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[i+1]))
	}
	return sb.String()
}
