package http

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// IPExtractor resolves the real client address for a request. Forwarding
// headers are honored only when the direct peer is a trusted proxy, so a
// client cannot spoof its address by sending X-Forwarded-For itself.
type IPExtractor struct {
	trusted []*net.IPNet
}

// NewIPExtractor parses the trusted proxy list. Entries may be CIDR ranges
// or bare addresses; invalid entries fail construction so a typo cannot
// silently widen or narrow the trust boundary.
func NewIPExtractor(trustedProxies []string) (*IPExtractor, error) {
	trusted := make([]*net.IPNet, 0, len(trustedProxies))
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				entry = fmt.Sprintf("%s/%d", entry, bits)
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		trusted = append(trusted, ipNet)
	}
	return &IPExtractor{trusted: trusted}, nil
}

// ClientIP returns the client address for the request.
//
// When the direct peer is a trusted proxy, the first valid address from
// X-Forwarded-For wins, then X-Real-IP. Otherwise RemoteAddr is used as is.
func (e *IPExtractor) ClientIP(r *http.Request) string {
	remoteIP := remoteAddr(r)

	if e.isTrusted(remoteIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				candidate = strings.TrimSpace(candidate)
				if net.ParseIP(candidate) != nil {
					return candidate
				}
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			if net.ParseIP(xri) != nil {
				return xri
			}
		}
	}

	return remoteIP
}

func (e *IPExtractor) isTrusted(ip string) bool {
	if len(e.trusted) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range e.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// remoteAddr strips the port from RemoteAddr when present
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
