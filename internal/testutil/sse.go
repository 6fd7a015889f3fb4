package testutil

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SSEEvent is one Server-Sent Event
type SSEEvent struct {
	Type string
	Data string
}

// SSEConnection is an open event stream
type SSEConnection struct {
	resp    *http.Response
	scanner *bufio.Scanner
	eventCh chan SSEEvent
	errCh   chan error
	ctx     context.Context
	cancel  context.CancelFunc
}

// ConnectSSE opens an event stream at path
func (c *Client) ConnectSSE(ctx context.Context, path string) (*SSEConnection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	// Streams are long-lived; no client timeout
	resp, err := (&http.Client{Transport: c.HTTPClient.Transport}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &SSEConnection{
		resp:    resp,
		scanner: bufio.NewScanner(resp.Body),
		eventCh: make(chan SSEEvent, 64),
		errCh:   make(chan error, 1),
		ctx:     connCtx,
		cancel:  cancel,
	}
	conn.scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	go conn.readEvents()
	return conn, nil
}

func (conn *SSEConnection) readEvents() {
	defer close(conn.eventCh)
	defer close(conn.errCh)

	var eventType string
	var eventData strings.Builder

	for conn.scanner.Scan() {
		line := conn.scanner.Text()

		if line == "" {
			// A blank line ends the event
			if eventType != "" || eventData.Len() > 0 {
				event := SSEEvent{Type: eventType, Data: strings.TrimSpace(eventData.String())}
				select {
				case conn.eventCh <- event:
				case <-conn.ctx.Done():
					return
				}
			}
			eventType = ""
			eventData.Reset()
			continue
		}

		if v, ok := strings.CutPrefix(line, "event:"); ok {
			eventType = strings.TrimSpace(v)
		} else if v, ok := strings.CutPrefix(line, "data:"); ok {
			eventData.WriteString(v)
		}
	}

	if err := conn.scanner.Err(); err != nil {
		select {
		case conn.errCh <- err:
		case <-conn.ctx.Done():
		}
	}
}

// Events returns the event channel
func (conn *SSEConnection) Events() <-chan SSEEvent {
	return conn.eventCh
}

// Close closes the stream
func (conn *SSEConnection) Close() {
	conn.cancel()
	conn.resp.Body.Close()
}

// WaitForEvent waits for the next event of eventType, skipping others
func (conn *SSEConnection) WaitForEvent(eventType string, timeout time.Duration) (*SSEEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-conn.eventCh:
			if !ok {
				return nil, fmt.Errorf("connection closed")
			}
			if event.Type == eventType {
				return &event, nil
			}
		case err, ok := <-conn.errCh:
			if ok && err != nil {
				return nil, err
			}
		case <-timer.C:
			return nil, fmt.Errorf("timeout waiting for event type: %s", eventType)
		case <-conn.ctx.Done():
			return nil, conn.ctx.Err()
		}
	}
}

// WaitForJSON waits for an event of eventType and decodes its data into target
func (conn *SSEConnection) WaitForJSON(eventType string, timeout time.Duration, target any) error {
	event, err := conn.WaitForEvent(eventType, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(event.Data), target); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", eventType, err)
	}
	return nil
}
