package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/notifications"
)

var _ Transport = (*SSETransport)(nil)

// SSETransport dials the platform's notification stream: a long-lived
// server-sent-events response carrying one JSON-encoded Notification per
// event. The identity id rides on the dial request as the registration
// handshake.
type SSETransport struct {
	streamURL  string
	httpClient *http.Client
}

// NewSSETransport creates a transport for the given stream endpoint. The
// client must have no overall timeout; the stream is meant to live until
// closed.
func NewSSETransport(streamURL string) *SSETransport {
	return &SSETransport{
		streamURL:  streamURL,
		httpClient: &http.Client{},
	}
}

func (t *SSETransport) Dial(ctx context.Context, credential, userID string) (Conn, error) {
	u, err := url.Parse(t.streamURL)
	if err != nil {
		return nil, errors.Wrap(err, "[SSETransport.Dial] parsing stream url")
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(dialCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "[SSETransport.Dial] creating request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, clienterrors.Wrapf(clienterrors.ErrTransient, "[SSETransport.Dial] %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, clienterrors.ErrUnauthorized
		case http.StatusForbidden:
			return nil, clienterrors.ErrForbidden
		default:
			return nil, clienterrors.Wrapf(clienterrors.ErrTransient, "[SSETransport.Dial] stream returned %d", resp.StatusCode)
		}
	}

	conn := &sseConn{
		events: make(chan notifications.Notification, 32),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go conn.read(resp)
	return conn, nil
}

type sseConn struct {
	events chan notifications.Notification
	done   chan struct{}
	cancel context.CancelFunc

	lock      sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (c *sseConn) Events() <-chan notifications.Notification { return c.events }
func (c *sseConn) Done() <-chan struct{}                     { return c.done }

func (c *sseConn) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.err
}

func (c *sseConn) Close() error {
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	c.cancel()
	return nil
}

// read consumes the event stream until it ends. Only "notification"
// events are decoded; everything else on the stream is ignored.
func (c *sseConn) read(resp *http.Response) {
	defer func() {
		resp.Body.Close()
		c.cancel()
		close(c.events)
		c.closeOnce.Do(func() { close(c.done) })
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 && (eventName == "" || eventName == "notification") {
				c.dispatch(data.String())
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := scanner.Err(); err != nil {
		c.lock.Lock()
		if !c.closed {
			c.err = clienterrors.Wrapf(clienterrors.ErrTransient, "stream read: %v", err)
		}
		c.lock.Unlock()
	}
}

func (c *sseConn) dispatch(payload string) {
	var n notifications.Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		log.Debug().Err(err).Msg("dropping undecodable stream event")
		return
	}
	if n.ID == "" {
		return
	}
	c.events <- n
}
