// Live status following over Moonraker's websocket
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printer

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"bend5x/pkg/errors"
)

// StatusUpdate is one notify_status_update payload: object name to
// changed attributes.
type StatusUpdate map[string]map[string]interface{}

// wsURL derives the websocket endpoint from the HTTP base URL.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrPrinter, "bad base URL %q", c.baseURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
	return u.String(), nil
}

// FollowStatus subscribes to print_stats and toolhead updates and
// streams them until ctx is canceled or the connection drops, closing
// the returned channel either way.
func (c *Client) FollowStatus(ctx context.Context) (<-chan StatusUpdate, error) {
	target, err := c.wsURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrPrinter, "websocket dial to %s failed", target)
	}

	sub := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "printer.objects.subscribe",
		"params": map[string]interface{}{
			"objects": map[string]interface{}{
				"print_stats": nil,
				"toolhead":    nil,
			},
		},
		"id": 1,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, errors.ErrPrinter, "status subscription failed")
	}

	updates := make(chan StatusUpdate, 16)
	go func() {
		defer close(updates)
		defer conn.Close()

		// Unblock ReadMessage when the caller gives up.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-stop:
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn("undecodable websocket message: %v", err)
				continue
			}
			if msg.Method != "notify_status_update" || len(msg.Params) == 0 {
				continue
			}
			var update StatusUpdate
			if err := json.Unmarshal(msg.Params[0], &update); err != nil {
				c.logger.Warn("undecodable status update: %v", err)
				continue
			}
			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates, nil
}
