// Package netstatus answers whether the remote store is reachable.
package netstatus

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Probe reports connectivity by opening a TCP connection to a known address.
type Probe struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	log     zerolog.Logger
}

// NewProbe creates a Probe dialing addr ("host:port").
func NewProbe(addr string, timeout time.Duration, log zerolog.Logger) *Probe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Probe{addr: addr, timeout: timeout, log: log}
}

// Online dials the probe address once.
func (p *Probe) Online() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		p.log.Debug().Err(err).Str("addr", p.addr).Msg("Connectivity probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

// Static is a fixed connectivity answer.
type Static bool

// Online implements the connectivity check.
func (s Static) Online() bool { return bool(s) }
