package esl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

// Client speaks the switch's event-socket protocol: blocks of
// "Key: Value" header lines terminated by a blank line, optionally
// followed by a body of Content-Length bytes. One client owns one
// session; the reconnect loop lives in the listener, not here.
type Client struct {
	config Config

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	connected bool
}

// Config holds event-socket connection settings.
type Config struct {
	Host           string
	Port           int
	Password       string
	ConnectTimeout time.Duration
	AuthTimeout    time.Duration
	APITimeout     time.Duration
}

// Event is one parsed switch event.
type Event map[string]string

// Name returns the switch event name.
func (e Event) Name() string { return e["Event-Name"] }

// CallUUID returns the channel's call UUID.
func (e Event) CallUUID() string { return e["Unique-ID"] }

const (
	contentTypeAuthRequest  = "auth/request"
	contentTypeCommandReply = "command/reply"
	contentTypeAPIResponse  = "api/response"
	contentTypeEventPlain   = "text/event-plain"
	contentTypeDisconnect   = "text/disconnect-notice"
)

func NewClient(config Config) *Client {
	if config.Port == 0 {
		config.Port = 8021
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.AuthTimeout == 0 {
		config.AuthTimeout = 5 * time.Second
	}
	if config.APITimeout == 0 {
		config.APITimeout = 10 * time.Second
	}

	return &Client{config: config}
}

// Connect dials the event socket and completes the authentication
// exchange. The socket is unusable until this returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	logger.Info("Connecting to switch event socket", "addr", addr)

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to connect to event socket")
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)

	if err := c.authenticate(); err != nil {
		conn.Close()
		c.conn = nil
		return err
	}

	c.connected = true
	logger.Info("Event socket session established")
	return nil
}

// authenticate waits for the switch's auth/request frame and answers
// with a single auth command.
func (c *Client) authenticate() error {
	c.conn.SetReadDeadline(time.Now().Add(c.config.AuthTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	frame, err := c.readFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to read auth request")
	}
	if frame.headers["Content-Type"] != contentTypeAuthRequest {
		return errors.New(errors.ErrTransport,
			fmt.Sprintf("unexpected greeting: %s", frame.headers["Content-Type"]))
	}

	if err := c.sendCommand(fmt.Sprintf("auth %s", c.config.Password)); err != nil {
		return err
	}

	reply, err := c.readFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to read auth reply")
	}

	replyText := reply.headers["Reply-Text"]
	if !strings.HasPrefix(replyText, "+OK") {
		return errors.New(errors.ErrAuthFailed, fmt.Sprintf("authentication rejected: %s", replyText))
	}

	logger.Debug("Event socket authentication accepted")
	return nil
}

// SubscribeEvents asks for plain-format delivery of the named event
// types. The subscription must be acknowledged before events flow.
func (c *Client) SubscribeEvents(names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return errors.New(errors.ErrTransport, "not connected to event socket")
	}

	if err := c.sendCommand(fmt.Sprintf("event plain %s", strings.Join(names, " "))); err != nil {
		return err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.AuthTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	reply, err := c.readFrame()
	if err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to read subscription reply")
	}

	replyText := reply.headers["Reply-Text"]
	if !strings.HasPrefix(replyText, "+OK") {
		return errors.New(errors.ErrTransport, fmt.Sprintf("subscription rejected: %s", replyText))
	}

	logger.Info("Subscribed to switch events", "events", strings.Join(names, " "))
	return nil
}

// ReadEvent blocks for at most timeout and returns one parsed event,
// or nil when nothing arrived this tick. A torn or unparseable frame
// also counts as "no event", never as an error; only transport-level
// failures are returned.
func (c *Client) ReadEvent(timeout time.Duration) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, errors.New(errors.ErrTransport, "not connected to event socket")
	}

	c.conn.SetReadDeadline(time.Now().Add(timeout))

	frame, err := c.readFrame()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil
		}
		if appErr, ok := err.(*errors.AppError); ok && appErr.Code == errors.ErrProtocolParse {
			logger.Debug("Dropping malformed frame", "error", err.Error())
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrTransport, "event socket read failed")
	}

	switch frame.headers["Content-Type"] {
	case contentTypeEventPlain:
		return parseEventBody(frame.body), nil
	case contentTypeDisconnect:
		return nil, errors.New(errors.ErrTransport, "switch sent disconnect notice")
	default:
		// Stray replies are not events; skip this tick.
		return nil, nil
	}
}

// API runs a synchronous status command over the same session. It
// must not race a pending ReadEvent; the single listener loop
// guarantees that by construction.
func (c *Client) API(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return "", errors.New(errors.ErrTransport, "not connected to event socket")
	}

	if err := c.sendCommand(fmt.Sprintf("api %s", command)); err != nil {
		return "", err
	}

	deadline := time.Now().Add(c.config.APITimeout)
	c.conn.SetReadDeadline(deadline)

	for time.Now().Before(deadline) {
		frame, err := c.readFrame()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrTransport, "failed to read api response")
		}
		if frame.headers["Content-Type"] == contentTypeAPIResponse {
			return string(frame.body), nil
		}
		// Events arriving between the command and its response are
		// not ours to consume here; drop them and keep waiting.
		logger.Debug("Skipping frame while waiting for api response",
			"content_type", frame.headers["Content-Type"])
	}

	return "", errors.New(errors.ErrSocketTimeout, "api command timed out")
}

// IsConnected reports the session state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Disconnect closes the session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	logger.Info("Event socket session closed")
}

func (c *Client) sendCommand(command string) error {
	if _, err := c.writer.WriteString(command + "\n\n"); err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to write command")
	}
	if err := c.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrTransport, "failed to flush command")
	}
	return nil
}

type frame struct {
	headers map[string]string
	body    []byte
}

// readFrame reads one header block and, when Content-Length is
// declared, its body.
func (c *Client) readFrame() (*frame, error) {
	f := &frame{headers: make(map[string]string)}

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line terminates the header block.
		if line == "" {
			if len(f.headers) == 0 {
				continue
			}
			break
		}

		idx := strings.Index(line, ":")
		if idx <= 0 {
			return nil, errors.New(errors.ErrProtocolParse,
				fmt.Sprintf("malformed header line: %q", line))
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		f.headers[key] = value
	}

	if lengthStr, ok := f.headers["Content-Length"]; ok {
		length, err := strconv.Atoi(lengthStr)
		if err != nil || length < 0 {
			return nil, errors.New(errors.ErrProtocolParse,
				fmt.Sprintf("invalid content length: %q", lengthStr))
		}

		f.body = make([]byte, length)
		if _, err := io.ReadFull(c.reader, f.body); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// parseEventBody turns a plain-format event body into a map. Values
// are URL-encoded on the wire; decode failures keep the raw value.
func parseEventBody(body []byte) Event {
	event := make(Event)

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		event[key] = value
	}

	return event
}
