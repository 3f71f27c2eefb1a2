package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/halyard-chat/halyard/internal/tlsutil"
	"github.com/halyard-chat/halyard/internal/wire"
)

// NormalizeAddr appends the default port when addr has none.
func NormalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, strconv.Itoa(wire.DefaultPort))
	}
	return addr
}

// Dial opens a TLS connection to addr, trusting exactly the certificate
// whose public-key fingerprint matches pin. There is no chain or hostname
// verification; the out-of-band pin is the whole trust anchor.
func Dial(ctx context.Context, addr, pin string) (*tls.Conn, error) {
	dialer := &tls.Dialer{Config: &tls.Config{
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: tlsutil.PinVerifier(pin),
	}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn.(*tls.Conn), nil
}
