package rpc

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter applies a token bucket per client IP. Forwarded headers are
// honoured only when the direct peer is a trusted proxy.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	proxies []*net.IPNet

	mu       sync.Mutex
	visitors map[string]*limiterEntry
	now      func() time.Time
}

func newClientLimiter(perSecond float64, burst int, trusted []string) (*clientLimiter, error) {
	l := &clientLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: make(map[string]*limiterEntry),
		now:      time.Now,
	}
	if perSecond <= 0 {
		l.limit = rate.Inf
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("rpc: trusted proxy %q: %w", entry, err)
		}
		l.proxies = append(l.proxies, network)
	}
	return l, nil
}

func (l *clientLimiter) allow(r *http.Request) bool {
	if l.limit == rate.Inf {
		return true
	}
	id := l.clientIP(r)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.visitors, key)
		}
	}
	entry, ok := l.visitors[id]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !l.trusted(host) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if ip := net.ParseIP(candidate); ip != nil {
			return ip.String()
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip.String()
		}
	}
	return host
}

func (l *clientLimiter) trusted(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range l.proxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
