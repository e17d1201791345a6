// Package client talks to the validation server over its line protocol.
package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bytedance/sonic"

	"convenio-service/internal/types"
)

type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// New returns a client for addr. timeout bounds the whole exchange; zero
// leaves it to ctx.
func New(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Validate(ctx context.Context, req *types.ValidationRequest) (*types.Reply, error) {
	return c.Do(ctx, req)
}

// Do sends payload as one line on a fresh connection and decodes the single
// line written back.
func (c *Client) Do(ctx context.Context, payload any) (*types.Reply, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	line, err := sonic.ConfigFastest.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	raw, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(raw) > 0) {
		return nil, fmt.Errorf("read response: %w", err)
	}
	raw = bytes.TrimRight(raw, "\r\n")

	var reply types.Reply
	if err := sonic.ConfigStd.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	reply.Body = raw
	return &reply, nil
}
