package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedRealIP rewrites r.RemoteAddr to the client address carried in
// X-Real-IP or X-Forwarded-For, but only when the connection comes from one of
// the trusted proxy prefixes. Untrusted peers keep their socket address, so a
// client cannot dodge the rate limiter or appear under someone else's address
// in session logs by sending its own headers.
//
// Entries may be CIDRs or bare addresses. Invalid entries are logged and
// skipped; config.Validate rejects them before the server starts.
func TrustedRealIP(trustedProxies []string) func(http.Handler) http.Handler {
	trusted, errs := ParseTrustedProxies(trustedProxies)
	for _, err := range errs {
		slog.Warn("realip: skipping trusted proxy entry", "error", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if addr, ok := forwardedFor(r, trusted); ok {
				r.RemoteAddr = addr.String()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseTrustedProxies converts CIDR or bare-address entries into prefixes.
// Blank entries are ignored; each invalid entry yields one error.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, []error) {
	var (
		prefixes []netip.Prefix
		errs     []error
	)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q: not a CIDR or IP address", entry))
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, errs
}

// forwardedFor returns the client address a trusted proxy reported.
// X-Real-IP wins over the first X-Forwarded-For hop.
func forwardedFor(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok || !contains(trusted, peer) {
		return netip.Addr{}, false
	}

	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		addr, err := netip.ParseAddr(rip)
		return addr.Unmap(), err == nil
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		addr, err := netip.ParseAddr(strings.TrimSpace(first))
		return addr.Unmap(), err == nil
	}
	return netip.Addr{}, false
}

// peerAddr parses a host:port or bare address.
func peerAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
