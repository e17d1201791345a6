// Package ratelimit keeps one token bucket per client IP.
package ratelimit

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdleTTL = 15 * time.Minute

// Limiter admits connections by remote IP. Ports are ignored, so every
// connection from one host draws from the same bucket.
type Limiter struct {
	mu      sync.Mutex
	clients map[netip.Addr]*client
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

type Option func(*Limiter)

// WithIdleTTL sets how long an idle client keeps its bucket.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.idleTTL = d
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(rps float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		clients: make(map[netip.Addr]*client),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AllowConn reports whether a connection from addr may be served now. A nil
// Limiter, or an address without an IP, is always allowed.
func (l *Limiter) AllowConn(addr net.Addr) bool {
	if l == nil {
		return true
	}
	ip, ok := hostIP(addr)
	if !ok {
		return true
	}

	now := l.now()
	l.mu.Lock()
	c, found := l.clients[ip]
	if !found {
		c = &client{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.bucket.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than the idle TTL and returns how
// many are still tracked.
func (l *Limiter) Sweep() int {
	if l == nil {
		return 0
	}
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
	return len(l.clients)
}

func hostIP(addr net.Addr) (netip.Addr, bool) {
	if addr == nil {
		return netip.Addr{}, false
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ip, ok := netip.AddrFromSlice(tcp.IP)
		return ip.Unmap(), ok
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
