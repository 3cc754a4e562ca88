package esl

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	m.Run()
}

// fakeSwitch is a scripted event socket on a real TCP listener.
type fakeSwitch struct {
	listener net.Listener
	password string

	conn   net.Conn
	reader *bufio.Reader
}

func newFakeSwitch(t *testing.T, password string) *fakeSwitch {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	return &fakeSwitch{listener: listener, password: password}
}

func (s *fakeSwitch) addr() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// accept runs the greeting and auth exchange on the next connection.
func (s *fakeSwitch) accept(t *testing.T) bool {
	t.Helper()

	conn, err := s.listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)

	s.send("Content-Type: auth/request\n\n")

	command := s.readCommand(t)
	if command == "auth "+s.password {
		s.send("Content-Type: command/reply\nReply-Text: +OK accepted\n\n")
		return true
	}
	s.send("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n")
	return false
}

func (s *fakeSwitch) send(raw string) {
	s.conn.Write([]byte(raw))
}

func (s *fakeSwitch) sendEvent(body string) {
	s.send(fmt.Sprintf("Content-Type: text/event-plain\nContent-Length: %d\n\n%s", len(body), body))
}

// readCommand reads one double-newline terminated client command.
func (s *fakeSwitch) readCommand(t *testing.T) string {
	t.Helper()

	var lines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read command: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(lines) > 0 {
				break
			}
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func connect(t *testing.T, s *fakeSwitch, password string) *Client {
	t.Helper()

	host, port := s.addr()
	client := NewClient(Config{
		Host: host, Port: port, Password: password,
		ConnectTimeout: 2 * time.Second,
		AuthTimeout:    2 * time.Second,
	})

	done := make(chan error, 1)
	go func() { done <- client.Connect(context.Background()) }()
	s.accept(t)

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(client.Disconnect)
	return client
}

func TestConnectAuthenticates(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	if !client.IsConnected() {
		t.Error("client not connected after handshake")
	}
}

func TestConnectRejectsBadPassword(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")

	host, port := s.addr()
	client := NewClient(Config{
		Host: host, Port: port, Password: "wrong",
		ConnectTimeout: 2 * time.Second,
		AuthTimeout:    2 * time.Second,
	})

	done := make(chan error, 1)
	go func() { done <- client.Connect(context.Background()) }()
	s.accept(t)

	err := <-done
	if !errors.Is(err, errors.ErrAuthFailed) {
		t.Fatalf("Connect = %v, want auth failure", err)
	}
	if client.IsConnected() {
		t.Error("client connected after rejected auth")
	}
}

func TestSubscribeEvents(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	done := make(chan error, 1)
	go func() {
		done <- client.SubscribeEvents([]string{"CHANNEL_CREATE", "CUSTOM callcenter::info"})
	}()

	command := s.readCommand(t)
	if command != "event plain CHANNEL_CREATE CUSTOM callcenter::info" {
		t.Errorf("subscription command = %q", command)
	}
	s.send("Content-Type: command/reply\nReply-Text: +OK event listener enabled plain\n\n")

	if err := <-done; err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
}

func TestReadEventParsesAndDecodes(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	body := strings.Join([]string{
		"Event-Name: CHANNEL_CREATE",
		"Unique-ID: 0b4f1a2c",
		"Caller-Caller-ID-Name: Alice%20Smith",
		"variable_domain_name: acme.example.com",
		"",
	}, "\n")
	s.sendEvent(body)

	event, err := client.ReadEvent(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if event == nil {
		t.Fatal("ReadEvent returned no event")
	}

	if event.Name() != "CHANNEL_CREATE" {
		t.Errorf("event name = %s", event.Name())
	}
	if event.CallUUID() != "0b4f1a2c" {
		t.Errorf("call uuid = %s", event.CallUUID())
	}
	if event["Caller-Caller-ID-Name"] != "Alice Smith" {
		t.Errorf("caller name not decoded: %q", event["Caller-Caller-ID-Name"])
	}
}

func TestReadEventTimeoutIsQuiet(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	event, err := client.ReadEvent(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("ReadEvent on idle socket = %v, want nil", err)
	}
	if event != nil {
		t.Errorf("event = %v, want nil tick", event)
	}
}

func TestReadEventSkipsStrayReplies(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	s.send("Content-Type: command/reply\nReply-Text: +OK\n\n")

	event, err := client.ReadEvent(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if event != nil {
		t.Errorf("stray reply surfaced as event: %v", event)
	}
}

func TestReadEventDisconnectNotice(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	s.send("Content-Type: text/disconnect-notice\n\n")

	if _, err := client.ReadEvent(2 * time.Second); !errors.Is(err, errors.ErrTransport) {
		t.Fatalf("ReadEvent = %v, want transport error", err)
	}
}

func TestAPISkipsInterleavedEvents(t *testing.T) {
	s := newFakeSwitch(t, "ClueCon")
	client := connect(t, s, "ClueCon")

	done := make(chan struct {
		out string
		err error
	}, 1)
	go func() {
		out, err := client.API("status")
		done <- struct {
			out string
			err error
		}{out, err}
	}()

	if command := s.readCommand(t); command != "api status" {
		t.Errorf("api command = %q", command)
	}

	// An event lands between the command and its response.
	s.sendEvent("Event-Name: HEARTBEAT\n")
	response := "UP 0 years, 0 days, 1 hour\n"
	s.send(fmt.Sprintf("Content-Type: api/response\nContent-Length: %d\n\n%s", len(response), response))

	result := <-done
	if result.err != nil {
		t.Fatalf("API: %v", result.err)
	}
	if !strings.HasPrefix(result.out, "UP ") {
		t.Errorf("api response = %q", result.out)
	}
}
