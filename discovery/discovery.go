// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package discovery locates the Redis store via mDNS (multicast DNS).
//
// A store advertised as "_redis._tcp" in the "local." domain is resolved to
// a host:port address. An optional TXT record "db=<n>" selects the logical
// database, and "role=master" is preferred over replicas when several
// instances answer.
//
// # Example Usage
//
//	scanner := discovery.NewScanner("_redis._tcp", "local.")
//
//	addr, err := scanner.LocateStore(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
)

// DefaultServiceType is the DNS-SD service type a Redis server advertises.
const DefaultServiceType = "_redis._tcp"

// ErrNoService is returned when a scan finds no instance.
var ErrNoService = errors.New("no store advertised")

// Service is one advertised store instance.
type Service struct {
	Name      string
	Address   net.IP
	Port      int
	TXTRecord map[string]string
	Hostname  string
}

// Addr returns the instance's host:port.
func (s *Service) Addr() string {
	return net.JoinHostPort(s.Address.String(), strconv.Itoa(s.Port))
}

// DB returns the database advertised in the "db" TXT record, or 0.
func (s *Service) DB() int {
	if v, ok := s.TXTRecord["db"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// IsPrimary reports whether the instance advertises itself as the primary.
func (s *Service) IsPrimary() bool {
	role := strings.ToLower(s.TXTRecord["role"])
	return role == "master" || role == "primary"
}

// ID returns a unique identifier for the instance.
func (s *Service) ID() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Addr()
}

// Scanner browses for advertised stores.
type Scanner struct {
	serviceType string
	domain      string
	services    map[string]*Service
	mu          sync.RWMutex // Protects services map
}

// NewScanner creates a new scanner.
func NewScanner(serviceType, domain string) *Scanner {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if domain == "" {
		domain = "local."
	}
	return &Scanner{
		serviceType: serviceType,
		domain:      domain,
		services:    make(map[string]*Service),
	}
}

// Discover browses for timeout and returns every instance seen.
//
// The resolver sends entries on a buffered channel; a single consumer
// goroutine parses them and records each in the scanner's map until the
// browse context ends and the resolver closes the channel.
func (s *Scanner) Discover(ctx context.Context, timeout time.Duration) ([]*Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.NewNetworkError("mdns resolver", s.domain, err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 10)
	discovered := make([]*Service, 0)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			svc := parseServiceEntry(entry)
			if svc == nil {
				continue
			}

			s.mu.Lock()
			s.services[svc.ID()] = svc
			s.mu.Unlock()
			discovered = append(discovered, svc)

			logger.Info().
				Str("instance", svc.Name).
				Str("addr", svc.Addr()).
				Int("db", svc.DB()).
				Bool("primary", svc.IsPrimary()).
				Msg("Discovered store")
		}
	}()

	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(discoverCtx, s.serviceType, s.domain, entries); err != nil {
		return nil, errors.NewNetworkError("mdns browse", s.serviceType, err)
	}

	<-discoverCtx.Done()
	wg.Wait()

	return discovered, nil
}

// LocateStore browses for timeout and returns the best instance's address.
func (s *Scanner) LocateStore(ctx context.Context, timeout time.Duration) (*Service, error) {
	found, err := s.Discover(ctx, timeout)
	if err != nil {
		return nil, err
	}
	best := Choose(found)
	if best == nil {
		return nil, fmt.Errorf("%s in %s: %w", s.serviceType, s.domain, ErrNoService)
	}
	return best, nil
}

// Choose picks the instance to use: primaries first, then by name. It
// returns nil for an empty list.
func Choose(services []*Service) *Service {
	if len(services) == 0 {
		return nil
	}
	sorted := append([]*Service(nil), services...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].IsPrimary() != sorted[j].IsPrimary() {
			return sorted[i].IsPrimary()
		}
		return sorted[i].ID() < sorted[j].ID()
	})
	return sorted[0]
}

func parseServiceEntry(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}
	if len(entry.AddrIPv4) == 0 && len(entry.AddrIPv6) == 0 {
		return nil
	}
	if entry.Port <= 0 || entry.Port > 65535 {
		return nil
	}

	// Prefer IPv4
	var addr net.IP
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0]
	} else {
		addr = entry.AddrIPv6[0]
	}

	return &Service{
		Name:      entry.Instance,
		Address:   addr,
		Port:      entry.Port,
		TXTRecord: parseTXT(entry.Text),
		Hostname:  entry.HostName,
	}
}

func parseTXT(records []string) map[string]string {
	txt := make(map[string]string, len(records))
	for _, r := range records {
		parts := strings.SplitN(r, "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			txt[strings.ToLower(parts[0])] = parts[1]
		}
	}
	return txt
}

// Services returns every instance seen so far.
func (s *Scanner) Services() []*Service {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	return out
}

// ServiceByID returns an instance by ID, or nil if not seen.
func (s *Scanner) ServiceByID(id string) *Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[id]
}
