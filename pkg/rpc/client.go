package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ja7ad/policyd/pkg/engine"
)

const dialTimeout = 5 * time.Second

// Client talks to a running daemon. Each call opens its own connection.
type Client struct {
	path string
}

func NewClient(path string) *Client { return &Client{path: path} }

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.path, err)
	}
	return conn, nil
}

// send writes req under ctx's deadline.
func (c *Client) send(ctx context.Context, conn net.Conn, req Request) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if err := newEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	return nil
}

// do performs one request. A failure reported by the daemon is returned
// as *Error.
func (c *Client) do(ctx context.Context, req Request, out any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.send(ctx, conn, req); err != nil {
		return err
	}
	var resp Response
	if err := newDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read %s response: %w", req.Action, err)
	}
	if !resp.OK {
		return &Error{Code: resp.Code, Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", req.Action, err)
		}
	}
	return nil
}

// Get reads a property of object.
func (c *Client) Get(ctx context.Context, object, property string) (any, error) {
	var out any
	err := c.do(ctx, Request{Action: ActionGet, Object: object, Property: property}, &out)
	return out, err
}

// Set writes a property of object.
func (c *Client) Set(ctx context.Context, object, property string, value any) error {
	return c.do(ctx, Request{Action: ActionSet, Object: object, Property: property, Value: value}, nil)
}

// Call invokes a method of object and returns its result, if any.
func (c *Client) Call(ctx context.Context, object, method string) (any, error) {
	var out any
	err := c.do(ctx, Request{Action: ActionCall, Object: object, Method: method}, &out)
	return out, err
}

// Objects lists every object the daemon exposes.
func (c *Client) Objects(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := c.do(ctx, Request{Action: ActionObjects}, &out)
	return out, err
}

// Stats returns the daemon's counters.
func (c *Client) Stats(ctx context.Context) (map[string]uint64, error) {
	var out map[string]uint64
	err := c.do(ctx, Request{Action: ActionStats}, &out)
	return out, err
}

// Subscribe calls fn for every change notification until ctx ends or
// the daemon goes away. A canceled ctx returns nil.
func (c *Client) Subscribe(ctx context.Context, fn func(engine.Change)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := newEncoder(conn).Encode(Request{Action: ActionSubscribe}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	dec := newDecoder(conn)
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read subscribe response: %w", err)
	}
	if !resp.OK {
		return &Error{Code: resp.Code, Message: resp.Error}
	}

	for {
		var ch engine.Change
		if err := dec.Decode(&ch); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read change: %w", err)
		}
		fn(ch)
	}
}
