package coordinator

import (
	"context"
	"net"
)

// DiscoveryService is the shape of the external endpoint-discovery
// collaborator the network layer assumes but does not implement;
// request routing and model discovery live outside this package.
type DiscoveryService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RefreshEndpoints(ctx context.Context) error
}

// DNSForwarder is the shape of the external DNS-resolution
// collaborator (spec.md §1 excludes DNS caching beyond this
// interface). Coordinator neither takes nor calls a DNSForwarder;
// defaultDNSForwarder adapts net.DefaultResolver to this interface.
type DNSForwarder interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// defaultDNSForwarder adapts net.DefaultResolver to DNSForwarder.
type defaultDNSForwarder struct{}

func (defaultDNSForwarder) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}
