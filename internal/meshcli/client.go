package meshcli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meshmon/internal/execx"
)

const (
	DefaultCommand      = "meshtastic"
	DefaultFetchTimeout = 30 * time.Second
)

// ErrFetch marks a node-list fetch that produced no usable data: the tool
// was missing, timed out, exited non-zero or printed nothing.
var ErrFetch = errors.New("mesh fetch failed")

// Client invokes the mesh CLI. It is injectable for unit tests.
type Client struct {
	r       execx.Runner
	command string
	port    string
	timeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithCommand overrides the CLI binary name or path.
func WithCommand(command string) Option {
	return func(c *Client) {
		if command != "" {
			c.command = command
		}
	}
}

// WithPort pins the serial device instead of auto-detecting it.
func WithPort(port string) Option {
	return func(c *Client) { c.port = port }
}

// WithTimeout bounds every node-list fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(r execx.Runner, opts ...Option) *Client {
	if r == nil {
		r = execx.NewOSRunner()
	}
	c := &Client{r: r, command: DefaultCommand, timeout: DefaultFetchTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) baseArgs() []string {
	if c.port == "" {
		return nil
	}
	return []string{"--port", c.port}
}

// NodesArgs returns the argument list used for node-list fetches.
func (c *Client) NodesArgs() []string {
	return append(c.baseArgs(), "--nodes", "--no-time")
}

// Nodes fetches the raw node-list text. Every failure wraps ErrFetch.
func (c *Client) Nodes(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.r.Output(ctx, c.command, c.NodesArgs()...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: timed out after %s", ErrFetch, c.timeout)
		}
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty output", ErrFetch)
	}
	return out, nil
}

// Listen streams packet log lines until ctx is cancelled or the tool exits.
func (c *Client) Listen(ctx context.Context, fn func(line string)) error {
	return c.r.Stream(ctx, fn, c.command, append(c.baseArgs(), "--listen")...)
}
