package processors

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// Attributes set by GetDaytime.
const (
	AttrDaytimeServer = "daytime.server"
	AttrDaytimeError  = "daytime.error"
)

const (
	defaultNetworkTimeout = 15 * time.Second
	maxDaytimeResponse    = 64 << 10
)

// GetDaytime is a source that queries a daytime server (RFC 867) once per
// invocation and emits the reply as a FlowFile.
//
// Properties:
//   - address: host:port of the server (required)
//   - timeout: dial and read deadline (default 15s)
//
// A failed query still emits a FlowFile, with empty content and a
// daytime.error attribute, to failure.
type GetDaytime struct {
	dialer net.Dialer
}

// NewGetDaytime creates a GetDaytime processor.
func NewGetDaytime() streamsync.Processor {
	return &GetDaytime{}
}

// Name implements streamsync.Processor.
func (g *GetDaytime) Name() string { return "GetDaytime" }

// Relationships implements streamsync.Declarer.
func (g *GetDaytime) Relationships() (inputs, outputs []streamsync.Relationship) {
	return nil, []streamsync.Relationship{streamsync.RelSuccess, streamsync.RelFailure}
}

// OnTrigger implements streamsync.Processor.
func (g *GetDaytime) OnTrigger(ctx streamsync.Context, s *streamsync.Session) error {
	addr, err := ctx.Config().RequireProperty("address")
	if err != nil {
		return err
	}
	timeout, err := durationProperty(ctx, "timeout", defaultNetworkTimeout)
	if err != nil {
		return err
	}

	attrs := map[string]string{AttrDaytimeServer: addr}
	reply, err := g.query(ctx, addr, timeout)
	if err != nil {
		ctx.Logger().Warn("daytime query failed", "address", addr, "error", err)
		attrs[AttrDaytimeError] = err.Error()
		return s.Transfer(s.Create(nil, attrs), streamsync.RelFailure)
	}
	return s.Transfer(s.Create([]byte(reply), attrs), streamsync.RelSuccess)
}

func (g *GetDaytime) query(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := g.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return "", err
		}
	}
	data, err := io.ReadAll(io.LimitReader(conn, maxDaytimeResponse))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
