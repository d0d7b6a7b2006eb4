package agent

import (
	"context"
	"errors"
	"testing"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil, nil); err == nil {
		t.Fatal("expected validation error for empty config")
	}
	a, err := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.config.ConcurrentDispatch != 1 {
		t.Fatalf("expected default ConcurrentDispatch=1, got %d", a.config.ConcurrentDispatch)
	}
}

func TestAddCapabilityRejectsDuplicate(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	handler := func(ctx context.Context, cmd types.Command) (map[string]interface{}, error) {
		return nil, nil
	}
	if err := a.AddCapability("echo", "", handler); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := a.AddCapability("echo", "", handler); !errors.Is(err, ErrDuplicateCapability) {
		t.Fatalf("expected ErrDuplicateCapability, got %v", err)
	}
}

func TestRunRejectsEmptyCapabilitySet(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	if err := a.Run(context.Background()); !errors.Is(err, ErrNoCapabilities) {
		t.Fatalf("expected ErrNoCapabilities, got %v", err)
	}
}

func TestDispatchUnknownCommandTypeIsNotFound(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	result := a.dispatch(context.Background(), types.Command{Type: "unknown"})
	if result.Status != types.StatusError {
		t.Fatalf("expected error status, got %v", result.Status)
	}
	if result.ErrorKind != string(vsmerrors.NotFound) {
		t.Fatalf("expected not_found kind, got %v", result.ErrorKind)
	}
}

func TestDispatchInvokesCapabilityHandler(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	a.MustAddCapability("echo", "", func(ctx context.Context, cmd types.Command) (map[string]interface{}, error) {
		return cmd.Payload, nil
	})

	result := a.dispatch(context.Background(), types.Command{Type: "echo", Payload: map[string]interface{}{"msg": "hi"}})
	if result.Status != types.StatusOK {
		t.Fatalf("expected ok status, got %v: %s", result.Status, result.ErrorMessage)
	}
	if result.Payload["msg"] != "hi" {
		t.Fatalf("unexpected payload: %v", result.Payload)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	a.MustAddCapability("boom", "", func(ctx context.Context, cmd types.Command) (map[string]interface{}, error) {
		panic("handler exploded")
	})

	result := a.dispatch(context.Background(), types.Command{Type: "boom"})
	if result.Status != types.StatusError {
		t.Fatalf("expected error status after panic recovery, got %v", result.Status)
	}
	if result.ErrorKind != string(vsmerrors.Internal) {
		t.Fatalf("expected internal kind, got %v", result.ErrorKind)
	}
}

func TestDispatchPropagatesClassifiedHandlerError(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	a.MustAddCapability("bad-input", "", func(ctx context.Context, cmd types.Command) (map[string]interface{}, error) {
		return nil, vsmerrors.New(vsmerrors.InvalidInput, "handler", errors.New("missing field"))
	})

	result := a.dispatch(context.Background(), types.Command{Type: "bad-input"})
	if result.ErrorKind != string(vsmerrors.InvalidInput) {
		t.Fatalf("expected invalid_input kind, got %v", result.ErrorKind)
	}
}

func TestIDAndType(t *testing.T) {
	a, _ := New(Config{ID: "w1", Type: "worker"}, nil, nil, nil, nil)
	if a.ID() != "w1" {
		t.Fatalf("unexpected ID: %s", a.ID())
	}
	if a.Type() != types.AgentWorker {
		t.Fatalf("unexpected Type: %s", a.Type())
	}
}
