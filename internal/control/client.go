package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// DefaultRetry is how long a client keeps trying to reach the daemon.
const DefaultRetry = 1500 * time.Millisecond

// DefaultTimeout bounds one request and its reply.
const DefaultTimeout = 5 * time.Second

// ErrNotRunning means no daemon answered within the retry window.
var ErrNotRunning = errors.New("daemon is not running")

// ErrUnresponsive means something accepted the connection but did not
// reply before the deadline.
var ErrUnresponsive = errors.New("daemon is not responding")

type Client struct {
	Path    string
	ID      string
	Retry   time.Duration
	Timeout time.Duration
}

func NewClient(path string) *Client {
	return &Client{
		Path:    path,
		ID:      uuid.NewString(),
		Retry:   DefaultRetry,
		Timeout: DefaultTimeout,
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(c.Retry)
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "unix", c.Path)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrNotRunning, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Send opens a connection, sends one request and waits for its reply.
func (c *Client) Send(ctx context.Context, t MessageType) (*Reply, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else if c.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	}

	if err := json.NewEncoder(conn).Encode(Request{ID: c.ID, Type: t}); err != nil {
		return nil, ioError("send "+string(t), err)
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return nil, ioError("read "+string(t)+" reply", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%s: %s", t, reply.Error)
	}
	if reply.Type != t || reply.ID != c.ID {
		return nil, fmt.Errorf("%s: reply for %s/%s", t, reply.Type, reply.ID)
	}
	return &reply, nil
}

func ioError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w: %v", op, ErrUnresponsive, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Client) Ping(ctx context.Context) error {
	var msg string
	if err := c.call(ctx, MsgPing, &msg); err != nil {
		return err
	}
	if msg != pong {
		return fmt.Errorf("ping: unexpected reply %q", msg)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (StatusMessage, error) {
	var st StatusMessage
	err := c.call(ctx, MsgStatus, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context) error {
	var msg string
	return c.call(ctx, MsgStop, &msg)
}

func (c *Client) call(ctx context.Context, t MessageType, out any) error {
	reply, err := c.Send(ctx, t)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply.Message, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", t, err)
	}
	return nil
}
