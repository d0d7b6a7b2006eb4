package rpc

import (
	"context"
	"testing"

	vsmerrors "github.com/cyberviable/vsm/internal/errors"
	"github.com/cyberviable/vsm/internal/types"
)

func TestRoutingKeyFor(t *testing.T) {
	cases := map[string]string{
		"broadcast":        "broadcast",
		"capability.echo":  "capability.echo",
		"w1":               "agent.w1",
	}
	for target, want := range cases {
		if got := routingKeyFor(target); got != want {
			t.Fatalf("routingKeyFor(%q) = %q, want %q", target, got, want)
		}
	}
}

func TestRegisterHandlerDuplicateRejected(t *testing.T) {
	r := &Router{handlers: make(map[string]HandlerFunc)}

	fn := func(ctx context.Context, cmd types.Command) (types.Result, error) {
		return types.Result{Status: types.StatusOK}, nil
	}

	if err := r.RegisterHandler("echo", fn); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	err := r.RegisterHandler("echo", fn)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if vsmerrors.KindOf(err) != vsmerrors.AlreadyRegistered {
		t.Fatalf("expected AlreadyRegistered, got %v", vsmerrors.KindOf(err))
	}
}

func TestDispatchUnknownTypeNotFound(t *testing.T) {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	_, err := r.Dispatch(context.Background(), types.Command{Type: "unknown"})
	if vsmerrors.KindOf(err) != vsmerrors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	r := &Router{handlers: make(map[string]HandlerFunc)}
	called := false
	r.RegisterHandler("echo", func(ctx context.Context, cmd types.Command) (types.Result, error) {
		called = true
		return types.Result{Status: types.StatusOK, Payload: cmd.Payload}, nil
	})

	res, err := r.Dispatch(context.Background(), types.Command{Type: "echo", Payload: map[string]interface{}{"msg": "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}
	if res.Payload["msg"] != "hi" {
		t.Fatalf("unexpected payload: %v", res.Payload)
	}
}

func TestResolveOnceDiscardsDuplicate(t *testing.T) {
	r := &Router{pending: make(map[string]*pendingCall)}
	r.pending["c1"] = &pendingCall{resultCh: make(chan types.Result, 1)}

	first := r.resolveOnce("c1", types.Result{Status: types.StatusOK})
	if first.Status != types.StatusOK {
		t.Fatalf("unexpected first result: %v", first)
	}

	// Second call for the same correlation id: entry already removed, but
	// resolveOnce must still return the result handed to it without panicking.
	second := r.resolveOnce("c1", types.Result{Status: types.StatusOK})
	if second.Status != types.StatusOK {
		t.Fatalf("unexpected second result: %v", second)
	}
}
