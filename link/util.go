package link

import (
	"net"
	"net/url"
	"strings"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// parseURI accepts tcp://host:port and plain host:port.
func parseURI(s string) (scheme, hostport string, err error) {
	if !strings.Contains(s, "://") {
		s = "tcp://" + s
	}
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", err
	}
	return u.Scheme, u.Host, nil
}
