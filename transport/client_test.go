package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m4xw311/agentwire/errors"
	"github.com/m4xw311/agentwire/protocol"
)

func TestCoreSendWithoutBinding(t *testing.T) {
	c := NewCore(nil, 0)
	if err := c.Send(protocol.NewToolDiscovery(nil)); !errors.Is(err, errors.ErrSend) {
		t.Errorf("expected ErrSend, got %v", err)
	}
}

func TestCoreGenerateContentTimesOut(t *testing.T) {
	c := NewCore(nil, 50*time.Millisecond)
	// Bound to a sink that never answers.
	c.Bind(func(msg *protocol.Message) error { return nil })

	start := time.Now()
	_, err := c.GenerateContent(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "x"}}}}, nil)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestCoreGenerateContentCancellation(t *testing.T) {
	c := NewCore(nil, time.Minute)
	c.Bind(func(msg *protocol.Message) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.GenerateContent(ctx,
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "x"}}}}, nil)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCoreDispatchMatchesResponseToRequest(t *testing.T) {
	c := NewCore(nil, time.Second)

	var requestID string
	c.Bind(func(msg *protocol.Message) error {
		requestID = msg.ID
		go c.Dispatch(protocol.NewGenerateContentResponse(msg.ID, []byte(`"done"`)))
		return nil
	})

	resp, err := c.GenerateContent(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "x"}}}}, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if string(resp) != `"done"` {
		t.Errorf("unexpected response: %s", resp)
	}
	if requestID == "" {
		t.Error("request never left the core")
	}
}

func TestCoreDispatchIgnoresUnmatchedResponse(t *testing.T) {
	c := NewCore(nil, time.Second)
	// Must not panic or block.
	c.Dispatch(protocol.NewGenerateContentResponse("never-sent", nil))
	c.Dispatch(protocol.NewStreamingResponse("never-sent", nil, true))
}

func TestCoreDispatchDropsInvalidMessage(t *testing.T) {
	c := NewCore(nil, time.Second)
	c.Dispatch(&protocol.Message{Type: protocol.TypeGenerateContentResponse})
}

func TestCoreErrorResponseFailsRequest(t *testing.T) {
	c := NewCore(nil, time.Second)
	c.Bind(func(msg *protocol.Message) error {
		go c.Dispatch(protocol.NewGenerateContentError(msg.ID, "model unavailable"))
		return nil
	})

	_, err := c.GenerateContent(context.Background(),
		[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "x"}}}}, nil)
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("expected the server's error text, got %v", err)
	}
}

func TestCoreFailPendingCarriesErrorKind(t *testing.T) {
	c := NewCore(nil, time.Minute)

	sent := make(chan struct{})
	c.Bind(func(msg *protocol.Message) error {
		close(sent)
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.GenerateContent(context.Background(),
			[]protocol.Content{{Role: "user", Parts: []protocol.Part{{Text: "x"}}}}, nil)
		errCh <- err
	}()

	<-sent
	c.FailPending(errors.ErrConnectionClosed)

	select {
	case err := <-errCh:
		if !errors.Is(err, errors.ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed to survive into the caller, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected within 2s")
	}
}

func TestCoreToolRequestWithoutExecutorAnswersWithError(t *testing.T) {
	c := NewCore(nil, time.Second)

	replies := make(chan *protocol.Message, 1)
	c.Bind(func(msg *protocol.Message) error {
		replies <- msg
		return nil
	})

	c.Dispatch(protocol.NewToolExecutionRequest("echo", nil))

	select {
	case resp := <-replies:
		if resp.Type != protocol.TypeToolExecutionResponse {
			t.Fatalf("expected tool response, got %s", resp.Type)
		}
		if resp.Error != "no tool executor configured" {
			t.Errorf("unexpected error text: %q", resp.Error)
		}
	case <-time.After(time.Second):
		t.Fatal("no response to tool request within 1s")
	}
}
