// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/granary-project/granary/lib/codec"
)

// DefaultTimeout bounds one request/response cycle.
const DefaultTimeout = 30 * time.Second

// Client issues requests against the daemon's control socket. One
// connection per request; the protocol is strictly request/response.
type Client struct {
	// SocketPath is the daemon's Unix control socket.
	SocketPath string

	// Timeout bounds each request/response cycle. Defaults to
	// DefaultTimeout.
	Timeout time.Duration
}

// Do sends one request and decodes the response. A response carrying
// OK=false is returned as an error.
func (c *Client) Do(req *Request) (*Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("unix", c.SocketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: connecting to daemon at %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("ipc: setting deadline: %w", err)
	}

	if err := codec.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("ipc: sending %s request: %w", req.Action, err)
	}

	var resp Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("ipc: reading %s response: %w", req.Action, err)
	}
	if !resp.OK {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}
