package listener

import (
	"context"
	"testing"
	"time"

	"github.com/md-riaz/NIZAM-sub001/internal/esl"
	"github.com/md-riaz/NIZAM-sub001/pkg/errors"
	"github.com/md-riaz/NIZAM-sub001/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init(logger.Config{Level: "error", Format: "text"})
	m.Run()
}

func TestBackoffSequence(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 16 * time.Second},
		{7, 30 * time.Second},
		{8, 30 * time.Second},
		{12, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// fakeClient scripts connect outcomes and a fixed event stream.
type fakeClient struct {
	connectErrs []error
	connects    int
	events      []esl.Event
	pos         int
	readErr     error
	connected   bool
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	c.connected = true
	return nil
}

func (c *fakeClient) SubscribeEvents(names []string) error { return nil }

func (c *fakeClient) ReadEvent(timeout time.Duration) (esl.Event, error) {
	if c.pos < len(c.events) {
		event := c.events[c.pos]
		c.pos++
		return event, nil
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	return nil, nil
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect()       { c.connected = false }

type fakeSink struct {
	processed int
	errs      []error
}

func (s *fakeSink) Process(ctx context.Context, event esl.Event) error {
	s.processed++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return err
	}
	return nil
}

func TestRunStopsExhaustedRetries(t *testing.T) {
	client := &fakeClient{connectErrs: []error{
		errors.New(errors.ErrTransport, "refused"),
		errors.New(errors.ErrTransport, "refused"),
		errors.New(errors.ErrTransport, "refused"),
	}}

	l := New(client, &fakeSink{}, nil, []string{"CHANNEL_CREATE"})
	l.MaxRetries = 2

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, errors.ErrExhaustedRetries) {
			t.Fatalf("Run() = %v, want exhausted retries", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after exhausting retries")
	}

	if client.connects != 2 {
		t.Errorf("connect attempts = %d, want 2", client.connects)
	}
}

func TestRunGracefulStop(t *testing.T) {
	client := &fakeClient{}
	sink := &fakeSink{}

	l := New(client, sink, nil, []string{"CHANNEL_CREATE"})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after Stop = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not honor stop flag")
	}
}

func TestLoopFatigueForcesReconnect(t *testing.T) {
	// Enough failing events to trip the fatigue bound twice over.
	var events []esl.Event
	var errs []error
	for i := 0; i < maxConsecutiveErrors; i++ {
		events = append(events, esl.Event{"Event-Name": "CHANNEL_CREATE"})
		errs = append(errs, errors.New(errors.ErrDatabase, "persist failed"))
	}

	client := &fakeClient{events: events}
	sink := &fakeSink{errs: errs}

	l := New(client, sink, nil, []string{"CHANNEL_CREATE"})
	l.readLoop(context.Background())

	if sink.processed != maxConsecutiveErrors {
		t.Errorf("processed = %d, want %d before fatigue", sink.processed, maxConsecutiveErrors)
	}
}

func TestReadLoopResetsErrorCount(t *testing.T) {
	// Alternating failures never reach the fatigue bound; the loop only
	// exits once the scripted events run out and a read error follows.
	var events []esl.Event
	var errs []error
	for i := 0; i < 30; i++ {
		events = append(events, esl.Event{"Event-Name": "CHANNEL_CREATE"})
		if i%2 == 0 {
			errs = append(errs, errors.New(errors.ErrDatabase, "persist failed"))
		} else {
			errs = append(errs, nil)
		}
	}

	client := &fakeClient{events: events, readErr: errors.New(errors.ErrTransport, "gone")}
	sink := &fakeSink{errs: errs}

	l := New(client, sink, nil, []string{"CHANNEL_CREATE"})
	l.readLoop(context.Background())

	if sink.processed != 30 {
		t.Errorf("processed = %d, want all 30 events", sink.processed)
	}
}
