// Package utils holds small helpers shared by the server and the worker.
package utils

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/raysh454/lumen/internal/model"
	"golang.org/x/net/idna"
)

// ValidateScanURL checks that raw is an absolute http or https URL and
// returns its normalized form: lowercase scheme and host, punycode host,
// no default port, no fragment, no credentials.
func ValidateScanURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("url is required")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", invalid("url contains whitespace")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalid("url does not parse")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", invalid("url must be absolute http or https")
	}
	if u.Opaque != "" {
		return "", invalid("url must be absolute http or https")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", invalid("url has no host")
	}
	if net.ParseIP(host) == nil {
		host, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return "", invalid("url host is not a valid domain name")
		}
	}

	port := u.Port()
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", invalid("url port out of range")
		}
	}
	switch {
	case (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443"), port == "":
		if strings.Contains(host, ":") {
			u.Host = "[" + host + "]"
		} else {
			u.Host = host
		}
	default:
		u.Host = net.JoinHostPort(host, port)
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// HostOf returns the host of an already validated URL, or "" if it does not parse.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func invalid(reason string) error {
	return &model.ValidationError{Field: "url", Reason: reason}
}
