// Package ssrf validates URLs, hostnames, and IP addresses before the
// runtime makes outbound requests on a model's behalf, preventing
// Server-Side Request Forgery against private and link-local targets.
//
// DNS is resolved up front and the chosen address is pinned into the dialer,
// so a hostname cannot pass validation and then re-resolve to an internal
// address at connect time.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// BlockedError is returned when a target is rejected by SSRF policy.
type BlockedError struct {
	Message string
}

func (e *BlockedError) Error() string {
	return e.Message
}

// blockedHostnames are always rejected regardless of resolution.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// dangerousSuffixes mark hostnames that name internal resources.
var dangerousSuffixes = []string{".localhost", ".local", ".internal"}

func normalizeHostname(hostname string) string {
	h := strings.ToLower(strings.TrimSpace(hostname))
	h = strings.TrimSuffix(h, ".")
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	return h
}

// IsBlockedHostname reports whether a hostname is rejected before any DNS
// lookup happens.
func IsBlockedHostname(hostname string) bool {
	h := normalizeHostname(hostname)
	if h == "" {
		return false
	}
	if blockedHostnames[h] {
		return true
	}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

// IsPrivateAddr reports whether an address is private, loopback, link-local,
// unspecified, or carrier-grade NAT space.
func IsPrivateAddr(addr netip.Addr) bool {
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() {
		return true
	}
	// 100.64.0.0/10 carrier-grade NAT is not covered by IsPrivate.
	if addr.Is4() {
		cgnat := netip.MustParsePrefix("100.64.0.0/10")
		return cgnat.Contains(addr)
	}
	// fc00::/7 unique-local space.
	if addr.Is6() {
		ula := netip.MustParsePrefix("fc00::/7")
		return ula.Contains(addr)
	}
	return false
}

// IsPrivateIPString reports whether a textual IP is private per IsPrivateAddr.
// Non-IP strings return false.
func IsPrivateIPString(s string) bool {
	addr, err := netip.ParseAddr(normalizeHostname(s))
	if err != nil {
		return false
	}
	return IsPrivateAddr(addr)
}

// ResolvePublic validates a hostname, resolves it, and returns the first
// public address. Every resolved address must be public; one private record
// rejects the whole name (DNS rebinding defense).
func ResolvePublic(ctx context.Context, hostname string) (netip.Addr, error) {
	h := normalizeHostname(hostname)
	if h == "" {
		return netip.Addr{}, &BlockedError{Message: "empty hostname"}
	}
	if IsBlockedHostname(h) {
		return netip.Addr{}, &BlockedError{Message: "blocked hostname: " + hostname}
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		if IsPrivateAddr(addr) {
			return netip.Addr{}, &BlockedError{Message: "blocked: private/internal IP address"}
		}
		return addr, nil
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", h)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("resolve %s: no addresses", hostname)
	}
	for _, ip := range ips {
		if IsPrivateAddr(ip) {
			return netip.Addr{}, &BlockedError{Message: "blocked: resolves to private/internal IP address"}
		}
	}
	return ips[0], nil
}

// ValidateURL checks scheme and hostname policy for an outbound fetch.
// Only http and https are permitted.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &BlockedError{Message: "blocked url scheme: " + u.Scheme}
	}
	if IsBlockedHostname(u.Hostname()) || IsPrivateIPString(u.Hostname()) {
		return nil, &BlockedError{Message: "blocked host: " + u.Hostname()}
	}
	return u, nil
}

// SafeClient returns an http.Client whose dialer re-validates and pins the
// resolved address for every connection, with redirects re-checked.
func SafeClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(address)
			if err != nil {
				return nil, err
			}
			addr, err := ResolvePublic(ctx, host)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		},
		MaxIdleConns:        16,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			if _, err := ValidateURL(req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
}
