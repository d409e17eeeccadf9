package ipc

import (
	"context"
	"errors"
	"io"
	"net"
)

type Client struct {
	conn net.Conn
}

func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Do sends one request and waits for its response. A failure reported by
// the daemon comes back as the error.
func (c *Client) Do(req Request) (Response, error) {
	frame, err := req.encode()
	if err != nil {
		return Response{}, err
	}
	if err := WriteFrame(c.conn, frame); err != nil {
		return Response{}, err
	}
	reply, err := ReadFrame(c.conn)
	if err != nil {
		return Response{}, err
	}
	resp, err := decodeResponse(reply)
	if err != nil {
		return Response{}, err
	}
	return resp, resp.Err()
}

// Subscribe switches the connection to event streaming. Events published
// after it returns are delivered to Events.
func (c *Client) Subscribe() error {
	_, err := c.Do(Request{Op: OpWatch})
	return err
}

// Events calls fn for each streamed event until ctx is cancelled, the daemon
// goes away or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(EventView) error) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		ev, err := decodeEvent(frame)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) Watch(ctx context.Context, fn func(EventView) error) error {
	if err := c.Subscribe(); err != nil {
		return err
	}
	return c.Events(ctx, fn)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
