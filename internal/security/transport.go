// Package security guards outbound webhook traffic against server-side
// request forgery. Every address a request resolves to, including redirect
// targets, must be outside the blocked ranges before a connection is made.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"
)

const dnsTimeout = 500 * time.Millisecond

var (
	ErrBlockedAddress   = errors.New("ssrf: destination address is not allowed")
	ErrResolveTimeout   = errors.New("ssrf: DNS resolution timed out")
	ErrResolveFailed    = errors.New("ssrf: DNS resolution failed")
	ErrTooManyRedirects = errors.New("ssrf: too many redirects")
	ErrInsecureScheme   = errors.New("ssrf: only https destinations are allowed")
)

// DefaultBlockedRanges covers loopback, link-local (cloud metadata),
// private, carrier-grade NAT and the IPv6 equivalents.
var DefaultBlockedRanges = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::/128",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

// Resolver abstracts DNS for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard decides whether a destination may be contacted.
type Guard struct {
	blocked      []netip.Prefix
	resolver     Resolver
	requireHTTPS bool
}

// Option customizes a Guard.
type Option func(*Guard)

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithBlockedRanges replaces DefaultBlockedRanges. An empty list disables
// address filtering, which is only meant for local development.
func WithBlockedRanges(cidrs []string) Option {
	return func(g *Guard) {
		g.blocked = nil
		for _, c := range cidrs {
			if p, err := netip.ParsePrefix(c); err == nil {
				g.blocked = append(g.blocked, p)
			}
		}
	}
}

// AllowPlainHTTP lifts the https requirement.
func AllowPlainHTTP() Option {
	return func(g *Guard) { g.requireHTTPS = false }
}

// NewGuard builds a Guard over DefaultBlockedRanges.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		resolver:     net.DefaultResolver,
		requireHTTPS: true,
	}
	for _, c := range DefaultBlockedRanges {
		g.blocked = append(g.blocked, netip.MustParsePrefix(c))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Blocked reports whether ip falls in a blocked range.
func (g *Guard) Blocked(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	addr = addr.Unmap()
	for _, p := range g.blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// CheckURL validates scheme and every resolved address of rawURL. It is the
// check run when a webhook channel or action is saved.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("%w: unparseable URL", ErrBlockedAddress)
	}
	if g.requireHTTPS && u.Scheme != "https" {
		return ErrInsecureScheme
	}
	_, err = g.resolve(ctx, u.Hostname())
	return err
}

// resolve returns the addresses of host after checking every one of them.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if g.Blocked(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return []net.IP{ip}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()
	addrs, err := g.resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrResolveTimeout, host)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrResolveFailed, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrResolveFailed, host)
	}

	// One blocked answer rejects the host, so a rebinding answer mixing
	// public and private addresses never connects.
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if g.Blocked(a.IP) {
			return nil, fmt.Errorf("%w: %s resolved to %s", ErrBlockedAddress, host, a.IP)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// DialContext dials the first checked address of addr's host.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}
	ips, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
}

// CheckRedirect bounds and re-validates redirects.
func (g *Guard) CheckRedirect(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}
		return g.CheckURL(req.Context(), req.URL.String())
	}
}

// NewHTTPClient returns a client whose every connection goes through g.
func (g *Guard) NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = g.DialContext
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: g.CheckRedirect(maxRedirects),
	}
}

// Validator adapts the guard to the save-time URL check used by handlers.
func (g *Guard) Validator() func(string) error {
	return func(rawURL string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*dnsTimeout)
		defer cancel()
		return g.CheckURL(ctx, rawURL)
	}
}
