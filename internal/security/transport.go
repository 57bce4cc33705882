package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// SafeTransport refuses to dial loopback, private, or link-local
// addresses. The assistant's outbound client uses it so a misconfigured
// or hostile base URL cannot reach internal services. The check runs
// after the dial so it sees the resolved address, not a DNS name.
var SafeTransport = &http.Transport{
	DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 5 * time.Second}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if err := rejectInternalAddr(conn.RemoteAddr(), addr); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	},
}

func rejectInternalAddr(remote net.Addr, dialed string) error {
	host, _, _ := net.SplitHostPort(remote.String())
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("unparseable remote address for %q", dialed)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return fmt.Errorf("remote address %s is internal, refusing", ip)
	}
	return nil
}

// NewSafeClient returns an HTTP client on SafeTransport with a total
// request deadline.
func NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: SafeTransport,
		Timeout:   timeout,
	}
}
