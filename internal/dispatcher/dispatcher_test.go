package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rijam/BossChecklist/pkg/streaming"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func event(typ streaming.MessageType) Event {
	return Event{Sender: "alice", Packet: streaming.Packet{Type: typ, BossKey: "Terraria KingSlime"}}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(streaming.TypeRecordUpdate, func(e Event) error {
		got = e
		return nil
	})

	if err := d.Dispatch(event(streaming.TypeRecordUpdate)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.Packet.BossKey != "Terraria KingSlime" {
		t.Errorf("handler saw %+v", got)
	}
	if got.Received.IsZero() {
		t.Error("expected receive time to be stamped")
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	want := errors.New("boom")
	d.Register(streaming.TypeRecordUpdate, func(e Event) error { return want })

	if err := d.Dispatch(event(streaming.TypeRecordUpdate)); !errors.Is(err, want) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_UnhandledType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(event(streaming.TypeResetTrackers))

	if !errors.Is(err, ErrUnhandled) {
		t.Errorf("expected ErrUnhandled, got %v", err)
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(streaming.TypeWorldRecordUpdate, func(e Event) error {
		mu.Lock()
		order = append(order, e.Sender)
		mu.Unlock()
		wg.Done()
		return nil
	}, Buffered(100))

	for _, sender := range []string{"a", "b", "c"} {
		e := event(streaming.TypeWorldRecordUpdate)
		e.Sender = sender
		if err := d.Dispatch(e); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	wg.Wait()

	if strings.Join(order, "") != "abc" {
		t.Errorf("expected arrival order, got %v", order)
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(streaming.TypeRecordUpdate, func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(2))

	d.Dispatch(event(streaming.TypeRecordUpdate)) // being processed
	<-started
	d.Dispatch(event(streaming.TypeRecordUpdate)) // queued
	d.Dispatch(event(streaming.TypeRecordUpdate)) // queued

	err := d.Dispatch(event(streaming.TypeRecordUpdate))

	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	close(block)
	d.Close()
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(streaming.TypeRecordUpdate, func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(1), Blocking())

	d.Dispatch(event(streaming.TypeRecordUpdate))
	<-started
	d.Dispatch(event(streaming.TypeRecordUpdate))

	done := make(chan struct{})
	go func() {
		d.Dispatch(event(streaming.TypeRecordUpdate))
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
	<-done
	d.Close()
}

func TestDispatcher_CloseDrains(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(streaming.TypeRecordUpdate, func(e Event) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	}, Buffered(10))

	for i := 0; i < 5; i++ {
		d.Dispatch(event(streaming.TypeRecordUpdate))
	}
	d.Close()

	if processed.Load() != 5 {
		t.Errorf("expected 5 processed before Close returned, got %d", processed.Load())
	}
	if err := d.Dispatch(event(streaming.TypeRecordUpdate)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	d.Close()
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(streaming.TypePlayTimeRecordUpdate, func(e Event) error {
		return nil
	}, Logged())

	d.Dispatch(event(streaming.TypePlayTimeRecordUpdate))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(streaming.TypeRecordUpdate, func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(event(streaming.TypeRecordUpdate))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") && strings.Contains(msg, "record_update") {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(streaming.TypeSendRecordsToServer, func(e Event) error { return nil })

	if !d.HasHandler(streaming.TypeSendRecordsToServer) {
		t.Error("expected handler to exist")
	}

	if d.HasHandler(streaming.TypeRecordUpdate) {
		t.Error("expected handler to not exist")
	}
}
