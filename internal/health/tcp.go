package health

import (
	"context"
	"net"
	"time"

	"github.com/gaia-project/gaia-core/internal/types"
)

// TCPChecker performs a bare TCP dial health check, for targets with no
// HTTP surface.
type TCPChecker struct {
	Target  string
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker for target at address.
func NewTCPChecker(target, address string) *TCPChecker {
	return &TCPChecker{Target: target, Address: address, Timeout: 3 * time.Second}
}

func (t *TCPChecker) Check(ctx context.Context) types.HealthSnapshot {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		kind := "connection_refused"
		if ctx.Err() != nil {
			kind = "timeout"
		}
		return types.HealthSnapshot{
			Target:     t.Target,
			OK:         false,
			ErrorKind:  kind,
			LatencyMS:  time.Since(start).Milliseconds(),
			ObservedAt: start,
		}
	}
	defer conn.Close()

	return types.HealthSnapshot{
		Target:     t.Target,
		OK:         true,
		LatencyMS:  time.Since(start).Milliseconds(),
		ObservedAt: start,
	}
}
