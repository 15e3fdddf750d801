package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
)

const (
	// DefaultCacheTTL bounds how long a resolved host is reused
	DefaultCacheTTL = 30 * time.Second

	// DefaultCacheSize is the number of hostnames kept in the cache
	DefaultCacheSize = 256

	// DefaultTimeout applies to each DNS exchange
	DefaultTimeout = 5 * time.Second
)

// ErrNoAddresses is returned when a hostname resolves to nothing
var ErrNoAddresses = errors.New("host resolved to no addresses")

// Config holds resolver configuration
type Config struct {
	// Servers are DNS servers (host or host:port) queried directly. When
	// empty the system resolver is used.
	Servers  []string
	CacheTTL time.Duration
	// CacheSize of zero disables caching
	CacheSize int
	Timeout   time.Duration
}

// DefaultConfig uses the system resolver with a short-lived cache
func DefaultConfig() Config {
	return Config{
		CacheTTL:  DefaultCacheTTL,
		CacheSize: DefaultCacheSize,
		Timeout:   DefaultTimeout,
	}
}

// Resolver turns a hostname or literal address into concrete IP addresses
type Resolver struct {
	servers []string
	client  *dns.Client
	system  *net.Resolver
	cache   *expirable.LRU[string, []string]
}

// NewResolver creates a resolver from cfg
func NewResolver(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	r := &Resolver{
		client: &dns.Client{Timeout: cfg.Timeout},
		system: net.DefaultResolver,
	}
	for _, s := range cfg.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		r.servers = append(r.servers, s)
	}
	if cfg.CacheSize > 0 {
		r.cache = expirable.NewLRU[string, []string](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return r
}

// ToIPs resolves host. Literal IPv4 and IPv6 addresses are returned as-is.
// An empty answer is an error, never an empty slice.
func (r *Resolver) ToIPs(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return nil, fmt.Errorf("cannot resolve empty host")
	}
	if net.ParseIP(host) != nil {
		metrics.DNSLookups.WithLabelValues("literal").Inc()
		return []string{host}, nil
	}

	if r.cache != nil {
		if ips, ok := r.cache.Get(host); ok {
			metrics.DNSLookups.WithLabelValues("cache").Inc()
			return append([]string(nil), ips...), nil
		}
	}

	log.Logger.Debug().
		Str("component", "dns.resolver").
		Str("host", host).
		Int("servers", len(r.servers)).
		Msg("resolving host")

	var (
		ips []string
		err error
	)
	if len(r.servers) > 0 {
		ips, err = r.exchange(ctx, host)
		source := "dns"
		if err != nil || len(ips) == 0 {
			// names like localhost only live in the hosts file
			ips, err = r.lookupSystem(ctx, host)
			source = "system"
		}
		metrics.DNSLookups.WithLabelValues(source).Inc()
	} else {
		ips, err = r.lookupSystem(ctx, host)
		metrics.DNSLookups.WithLabelValues("system").Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, ErrNoAddresses)
	}

	if r.cache != nil {
		r.cache.Add(host, ips)
	}
	return append([]string(nil), ips...), nil
}

func (r *Resolver) lookupSystem(ctx context.Context, host string) ([]string, error) {
	addrs, err := r.system.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP.String())
	}
	return ips, nil
}

// exchange asks each configured server for A and AAAA records until one
// answers.
func (r *Resolver) exchange(ctx context.Context, host string) ([]string, error) {
	fqdn := dns.Fqdn(host)
	var lastErr error

	for _, server := range r.servers {
		var ips []string
		for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
			msg := new(dns.Msg)
			msg.SetQuestion(fqdn, qtype)
			msg.RecursionDesired = true

			in, _, err := r.client.ExchangeContext(ctx, msg, server)
			if err != nil {
				lastErr = err
				break
			}
			if in.Rcode != dns.RcodeSuccess {
				lastErr = fmt.Errorf("server %s answered %s", server, dns.RcodeToString[in.Rcode])
				continue
			}
			for _, rr := range in.Answer {
				switch rec := rr.(type) {
				case *dns.A:
					ips = append(ips, rec.A.String())
				case *dns.AAAA:
					ips = append(ips, rec.AAAA.String())
				}
			}
		}
		if len(ips) > 0 {
			return ips, nil
		}
	}

	if lastErr == nil {
		lastErr = ErrNoAddresses
	}
	return nil, lastErr
}

// Purge drops every cached answer
func (r *Resolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}
