package geoip

import (
	"context"
	"net"
	"sync"
)

// Location describes what is known about an IP address. Known is false when
// the resolver has no data for the address; callers treat unknown locations
// as neutral rather than suspicious.
type Location struct {
	Country   string
	City      string
	Latitude  float64
	Longitude float64
	IsVPN     bool
	IsProxy   bool
	IsTor     bool
	Known     bool
}

// Resolver looks up geolocation and reputation data for an IP address.
// Implementations must not fail hard on missing data: return a Location with
// Known=false instead.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (Location, error)
}

// NoopResolver knows nothing about any address.
type NoopResolver struct{}

func NewNoopResolver() *NoopResolver {
	return &NoopResolver{}
}

func (r *NoopResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	return Location{}, nil
}

// StaticResolver serves lookups from a fixed table, keyed by CIDR block.
// Useful for tests and for deployments that ship a curated range list.
type StaticResolver struct {
	mu      sync.RWMutex
	entries []staticEntry
}

type staticEntry struct {
	network *net.IPNet
	loc     Location
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{}
}

// Add registers a CIDR block with its location data. Invalid CIDRs are
// reported to the caller.
func (r *StaticResolver) Add(cidr string, loc Location) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}
	loc.Known = true
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, staticEntry{network: network, loc: loc})
	return nil
}

func (r *StaticResolver) Resolve(ctx context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.network.Contains(parsed) {
			return e.loc, nil
		}
	}
	return Location{}, nil
}
