package address

import "fmt"

// Gateway resolves content-addresses of the origins it accepts into fetch
// URLs. A Gateway only knows how to build a URL, not how to fetch it —
// fetching is the SourceFetcher's job.
type Gateway interface {
	// WorksWith reports whether this gateway serves the given origin.
	WorksWith(origin Origin) bool
	// CreateURL builds the deterministic fetch URL for id, which must be an
	// id accepted by an origin this gateway WorksWith.
	CreateURL(id string) string
}

// SimpleGateway is a Gateway parameterized by a fixed set of accepted
// origins and a URL prefix; CreateURL is plain string concatenation.
type SimpleGateway struct {
	origins map[Origin]bool
	prefix  string
}

// NewSimpleGateway builds a SimpleGateway accepting origins, prepending
// prefix to every id to form the fetch URL.
func NewSimpleGateway(prefix string, origins ...Origin) *SimpleGateway {
	set := make(map[Origin]bool, len(origins))
	for _, o := range origins {
		set[o] = true
	}
	return &SimpleGateway{origins: set, prefix: prefix}
}

func (g *SimpleGateway) WorksWith(origin Origin) bool {
	return g.origins[origin]
}

func (g *SimpleGateway) CreateURL(id string) string {
	return g.prefix + id
}

// Set is an ordered registry of Gateways; the first registered Gateway that
// WorksWith an origin wins.
type Set struct {
	gateways []Gateway
}

// NewSet builds a Set from gateways in priority order.
func NewSet(gateways ...Gateway) *Set {
	return &Set{gateways: gateways}
}

// Resolve returns the fetch URL for sa, or an error if no registered gateway
// serves sa.Origin. A missing gateway for a *configured* chain is a fatal
// startup error (the caller is expected to validate the full origin set at
// construction via RequireOrigins); a missing gateway discovered while
// assembling a contract is an assembly error and must not crash the
// process — both paths return the same error type, and it is the caller's
// job to treat it accordingly.
func (s *Set) Resolve(sa SourceAddress) (string, error) {
	for _, g := range s.gateways {
		if g.WorksWith(sa.Origin) {
			return g.CreateURL(sa.ID), nil
		}
	}
	return "", fmt.Errorf("address: no gateway registered for origin %q", sa.Origin)
}

// RequireOrigins validates at startup that every origin in required has a
// registered gateway. Call this once after building the Set; a failure here
// is a fatal configuration error.
func (s *Set) RequireOrigins(required ...Origin) error {
	for _, origin := range required {
		found := false
		for _, g := range s.gateways {
			if g.WorksWith(origin) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("address: fatal: no gateway configured for required origin %q", origin)
		}
	}
	return nil
}

// DefaultOrigins is the set of origins the system must be able to resolve.
var DefaultOrigins = []Origin{OriginIPFS, OriginBzzr0, OriginBzzr1}

// NewDefaultSet builds the standard gateway registration: ipfs (configurable
// base URL) first, then bzzr0+bzzr1 sharing one swarm gateway URL, in the
// priority order ipfs is tried before either swarm variant.
func NewDefaultSet(ipfsURL, swarmURL string) *Set {
	return NewSet(
		NewSimpleGateway(ipfsURL, OriginIPFS),
		NewSimpleGateway(swarmURL, OriginBzzr0, OriginBzzr1),
	)
}
