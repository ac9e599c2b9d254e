package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"
)

// ErrOnionWithoutTor is returned when an onion address is dialed directly.
var ErrOnionWithoutTor = errors.New("onion address requires tor")

// Config holds Tor configuration parameters.
type Config struct {
	Enabled   bool
	ProxyAddr string

	// IsolateStreams gives every peer connection its own Tor circuit by
	// sending fresh SOCKS credentials per dial.
	IsolateStreams bool
}

// Client dials peers either directly or through a Tor SOCKS5 proxy. The
// Tor daemon itself is expected to be running; Check verifies it.
type Client struct {
	config  Config
	forward *net.Dialer
	shared  proxy.ContextDialer
}

// NewClient creates a client for config.
func NewClient(config Config) (*Client, error) {
	c := &Client{
		config:  config,
		forward: &net.Dialer{},
	}
	if !config.Enabled {
		return c, nil
	}

	shared, err := c.socks(nil)
	if err != nil {
		return nil, err
	}
	c.shared = shared
	return c, nil
}

// socks builds a SOCKS5 dialer on top of the direct dialer.
func (c *Client) socks(auth *proxy.Auth) (proxy.ContextDialer, error) {
	d, err := proxy.SOCKS5("tcp", c.config.ProxyAddr, auth, c.forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", c.config.ProxyAddr)
	}
	return cd, nil
}

// DialContext connects to address. Onion addresses are only reachable
// through Tor.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !c.config.Enabled {
		if IsOnionAddress(address) {
			return nil, fmt.Errorf("dial %s: %w", address, ErrOnionWithoutTor)
		}
		return c.forward.DialContext(ctx, network, address)
	}

	dialer := c.shared
	if c.config.IsolateStreams {
		auth := &proxy.Auth{User: uuid.NewString(), Password: uuid.NewString()}
		isolated, err := c.socks(auth)
		if err != nil {
			return nil, err
		}
		dialer = isolated
	}

	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s via tor: %w", address, err)
	}
	return conn, nil
}

// Check tests if the Tor proxy is reachable.
func (c *Client) Check(timeout time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.config.ProxyAddr, timeout)
	if err != nil {
		return fmt.Errorf("cannot connect to Tor proxy at %s: %w", c.config.ProxyAddr, err)
	}
	conn.Close()

	return nil
}

// IsEnabled returns whether Tor is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// ProxyAddr returns the Tor proxy address.
func (c *Client) ProxyAddr() string {
	return c.config.ProxyAddr
}

// IsOnionAddress checks if a host:port address is a Tor onion address.
func IsOnionAddress(address string) bool {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return false
	}
	return len(host) > len(".onion") && strings.HasSuffix(host, ".onion")
}
