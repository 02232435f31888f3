package netutil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// SafeDialer refuses to connect to private, loopback, link-local or
// unspecified addresses. It guards downloads from URLs handed out by a
// remote API.
type SafeDialer struct {
	Timeout  time.Duration
	Resolver *net.Resolver
}

// DialContext resolves address, rejects it if any of its IPs is not public
// and connects to the first validated IP, so a second lookup cannot swap it.
func (d *SafeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host = address
		port = ""
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host: %w", err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no address found for host: %s", host)
	}

	for _, a := range addrs {
		if !IsPublic(a.IP) {
			return nil, fmt.Errorf("connection to private IP %s is not allowed", a.IP)
		}
	}

	connectAddress := addrs[0].IP.String()
	if port != "" {
		connectAddress = net.JoinHostPort(connectAddress, port)
	}

	dialer := &net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, connectAddress)
}

// Transport returns an HTTP transport dialing through d. Proxies are not
// used, since the proxy address itself would be checked instead of the target.
func (d *SafeDialer) Transport() *http.Transport {
	return &http.Transport{
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func IsPublic(ip net.IP) bool {
	return !(ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified())
}
