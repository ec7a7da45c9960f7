package proxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	xproxy "golang.org/x/net/proxy"
)

// Entry is a single SOCKS5 proxy.
type Entry struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Addr returns the dial address of the proxy.
func (e Entry) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Pool rotates over configured SOCKS5 proxies and tracks failures.
type Pool struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	failed  map[string]struct{}
	logger  zerolog.Logger
}

// Stats is a snapshot of pool health.
type Stats struct {
	Total   int
	Working int
	Failed  int
}

// NewPool parses host:port:user:pass entries into a pool. Malformed
// entries are skipped with a warning.
func NewPool(list []string, logger zerolog.Logger) *Pool {
	p := &Pool{
		failed: make(map[string]struct{}),
		logger: logger.With().Str("component", "proxy_pool").Logger(),
	}

	for _, raw := range list {
		entry, err := parseEntry(raw)
		if err != nil {
			p.logger.Warn().Str("entry", raw).Err(err).Msg("Skipping malformed proxy entry")
			continue
		}
		p.entries = append(p.entries, entry)
	}

	if len(p.entries) > 0 {
		p.logger.Info().Int("count", len(p.entries)).Msg("Loaded proxies")
	}

	return p
}

func parseEntry(raw string) (Entry, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 4 {
		return Entry{}, fmt.Errorf("want host:port:user:pass, got %d parts", len(parts))
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid port: %w", err)
	}

	return Entry{
		Host:     strings.TrimSpace(parts[0]),
		Port:     port,
		Username: strings.TrimSpace(parts[2]),
		Password: strings.TrimSpace(parts[3]),
	}, nil
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy in rotation, skipping failed ones. When
// every proxy has failed the failed set is reset and rotation restarts.
func (p *Pool) Next() (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		return Entry{}, false
	}

	for attempts := 0; attempts < len(p.entries); attempts++ {
		entry := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)

		if _, bad := p.failed[entry.Addr()]; bad {
			continue
		}
		return entry, true
	}

	if len(p.failed) > 0 {
		p.logger.Warn().Msg("All proxies failed, resetting failed list")
		p.failed = make(map[string]struct{})
		entry := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)
		return entry, true
	}

	return Entry{}, false
}

// MarkFailed records a proxy as failed so rotation skips it.
func (p *Pool) MarkFailed(entry Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failed[entry.Addr()] = struct{}{}
	p.logger.Warn().Str("proxy", entry.Addr()).Msg("Marked proxy as failed")
}

// ResetFailed clears the failed set.
func (p *Pool) ResetFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = make(map[string]struct{})
}

// Stats returns a snapshot of pool health.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Total:   len(p.entries),
		Working: len(p.entries) - len(p.failed),
		Failed:  len(p.failed),
	}
}

// Dialer builds a SOCKS5 context dialer for the entry.
func (p *Pool) Dialer(entry Entry) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	var auth *xproxy.Auth
	if entry.Username != "" {
		auth = &xproxy.Auth{User: entry.Username, Password: entry.Password}
	}

	d, err := xproxy.SOCKS5("tcp", entry.Addr(), auth, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("build socks5 dialer: %w", err)
	}

	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context dialing")
	}

	return cd.DialContext, nil
}
