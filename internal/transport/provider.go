package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/remote"
)

// DialConfig configures the client side of the socket transport.
type DialConfig struct {
	// Network is "tcp" or "unix"
	Network string `mapstructure:"network" yaml:"network" validate:"omitempty,oneof=tcp unix"`

	// Address is the server host:port or socket path
	Address string `mapstructure:"address" yaml:"address" validate:"required"`

	// DialTimeout bounds each connection attempt. Default: 5s
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"min=0"`

	// MaxRetries is the number of additional attempts after a failed
	// dial. Default: 3
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"min=0"`
}

// SocketProvider is a remote.ConnectionProvider dialing one socket per
// call.
type SocketProvider struct {
	config DialConfig
	dialer net.Dialer
}

var _ remote.ConnectionProvider = (*SocketProvider)(nil)

// NewSocketProvider creates a provider. Zero values get defaults.
func NewSocketProvider(config DialConfig) *SocketProvider {
	if config.Network == "" {
		config.Network = "tcp"
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &SocketProvider{
		config: config,
		dialer: net.Dialer{Timeout: config.DialTimeout},
	}
}

// Connect implements remote.ConnectionProvider. Failed dials are retried
// with exponential backoff.
func (p *SocketProvider) Connect(ctx context.Context) (*remote.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	var conn net.Conn
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := p.dialer.DialContext(ctx, p.config.Network, p.config.Address)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			logger.Debug("dial %s %s (attempt %d): %v", p.config.Network, p.config.Address, attempt, err)
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.config.MaxRetries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", p.config.Network, p.config.Address, err)
	}

	return &remote.Conn{Out: halfCloser{conn}, In: conn}, nil
}

// closeWriter is implemented by *net.TCPConn and *net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// halfCloser closes only the sending direction, so the server sees the
// end of the request while the response can still be read.
type halfCloser struct {
	net.Conn
}

func (h halfCloser) Close() error {
	if cw, ok := h.Conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return h.Conn.Close()
}
