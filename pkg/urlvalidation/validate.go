// Package urlvalidation guards outbound webhook targets against SSRF.
package urlvalidation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"slices"
	"strings"
)

// Validation failures, matched with errors.Is.
var (
	ErrScheme       = errors.New("url scheme not allowed")
	ErrNoHost       = errors.New("url has no host")
	ErrUnresolvable = errors.New("url host does not resolve")
	ErrReserved     = errors.New("url resolves to a private or reserved address")
)

// reserved lists loopback, private, link-local and special-purpose ranges
// that a webhook must never reach.
var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Resolver maps a host name to its addresses.
type Resolver func(ctx context.Context, host string) ([]netip.Addr, error)

type validationConfig struct {
	allowPrivate bool
	httpsOnly    bool
	allowedHosts []string
	resolve      Resolver
}

// Option configures validation.
type Option func(*validationConfig)

// AllowPrivateIPs disables the reserved range check. Use only in tests.
func AllowPrivateIPs() Option {
	return func(c *validationConfig) { c.allowPrivate = true }
}

// RequireHTTPS rejects plain http targets.
func RequireHTTPS() Option {
	return func(c *validationConfig) { c.httpsOnly = true }
}

// AllowHosts exempts the named hosts from the reserved range check, for CRM
// receivers inside the private network.
func AllowHosts(hosts ...string) Option {
	return func(c *validationConfig) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				c.allowedHosts = append(c.allowedHosts, h)
			}
		}
	}
}

// WithResolver replaces DNS resolution.
func WithResolver(r Resolver) Option {
	return func(c *validationConfig) { c.resolve = r }
}

func systemResolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// ValidateWebhookURL is Validate with a background context.
func ValidateWebhookURL(rawURL string, opts ...Option) error {
	return Validate(context.Background(), rawURL, opts...)
}

// Validate checks that rawURL is an http(s) URL whose host resolves only to
// public addresses.
func Validate(ctx context.Context, rawURL string, opts ...Option) error {
	cfg := validationConfig{resolve: systemResolve}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if cfg.httpsOnly {
			return fmt.Errorf("%w: %q (https required)", ErrScheme, u.Scheme)
		}
	default:
		return fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ErrNoHost
	}
	if cfg.allowPrivate || slices.Contains(cfg.allowedHosts, host) {
		return nil
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = cfg.resolve(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnresolvable, host, err)
		}
		if len(addrs) == 0 {
			return fmt.Errorf("%w: %s", ErrUnresolvable, host)
		}
	}
	for _, a := range addrs {
		if IsReserved(a) {
			return fmt.Errorf("%w: %s -> %s", ErrReserved, host, a)
		}
	}
	return nil
}

// IsReserved reports whether addr must not receive webhook traffic.
// IPv4-mapped IPv6 addresses are checked as IPv4.
func IsReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsLoopback() {
		return true
	}
	for _, p := range reserved {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
