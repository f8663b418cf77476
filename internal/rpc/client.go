package rpc

import (
	"context"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/afscache/afscache/internal/circuit"
	"github.com/afscache/afscache/pkg/retry"
	"github.com/afscache/afscache/pkg/wire"
)

// Client is the proxy's connection to the server, implementing
// proxy.ServerClient over net/rpc. Dial failures are retried (pkg/retry);
// once connected, RPC calls are wrapped in a circuit breaker so a server
// outage fails fast instead of queuing up blocked proxy clients — but
// individual calls are never retried (see pkg/retry's package doc: retrying
// a Validate/Upload silently would violate session-semantics guarantees).
type Client struct {
	addr    string
	dialer  *retry.Dialer
	breaker *circuit.Breaker

	mu   sync.Mutex
	conn *rpc.Client
}

// NewClient creates a Client targeting addr. The first connection is made
// lazily on first use.
func NewClient(addr string) *Client {
	return &Client{
		addr:    addr,
		dialer:  retry.New(retry.DefaultConfig()),
		breaker: circuit.New("afscache-server", circuit.Config{}),
	}
}

func (c *Client) ensureConn(ctx context.Context) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	err := c.dialer.Dial(ctx, func(ctx context.Context) error {
		d := net.Dialer{}
		conn, derr := d.DialContext(ctx, "tcp", c.addr)
		if derr != nil {
			return derr
		}
		c.conn = rpc.NewClient(conn)
		return nil
	})
	return c.conn, err
}

// invalidate drops the cached connection after a transport error, so the
// next call redials instead of repeatedly failing against a dead socket.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) call(method string, args, reply interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}

	return c.breaker.Execute(func() error {
		if err := conn.Call("AFSCache."+method, args, reply); err != nil {
			if err == rpc.ErrShutdown {
				c.invalidate()
			}
			return err
		}
		return nil
	})
}

func (c *Client) Validate(args wire.ValidateArgs) (wire.ValidateResult, error) {
	var result wire.ValidateResult
	err := c.call("Validate", args, &result)
	return result, err
}

func (c *Client) DownloadChunk(args wire.DownloadChunkArgs) (wire.DownloadChunkResult, error) {
	var result wire.DownloadChunkResult
	err := c.call("DownloadChunk", args, &result)
	return result, err
}

func (c *Client) CancelChunk(args wire.CancelChunkArgs) error {
	var result wire.CancelChunkResult
	return c.call("CancelChunk", args, &result)
}

func (c *Client) Upload(args wire.UploadArgs) (wire.UploadResult, error) {
	var result wire.UploadResult
	err := c.call("Upload", args, &result)
	return result, err
}

func (c *Client) UploadChunk(args wire.UploadChunkArgs) error {
	var result wire.UploadChunkResult
	return c.call("UploadChunk", args, &result)
}

func (c *Client) Delete(args wire.DeleteArgs) (wire.DeleteResult, error) {
	var result wire.DeleteResult
	err := c.call("Delete", args, &result)
	return result, err
}

// Close closes the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
