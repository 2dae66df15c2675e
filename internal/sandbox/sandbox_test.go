package sandbox

import (
	"testing"
	"time"
)

func TestCompileCachesBySourceIdentity(t *testing.T) {
	sb := New()
	h1, err := sb.Compile("event.statusCode = 201;")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	h2, err := sb.Compile("event.statusCode = 201;")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical source to reuse cached handle")
	}

	h3, err := sb.Compile("event.statusCode = 202;")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if h3 == h1 {
		t.Fatalf("expected changed source to recompile")
	}
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	sb := New()
	if _, err := sb.Compile("event.statusCode = ;;;"); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestRunMutatesEventInPlace(t *testing.T) {
	sb := New()
	h, err := sb.Compile(`
		event.statusCode = 201;
		event.responseBody = "created";
	`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	event := &MutableEvent{StatusCode: 200, ResponseBody: "OK"}
	if err := Run(h, event, RequestInfo{Method: "POST", Path: "/webhook/abc"}, time.Second); err != nil {
		t.Fatalf("unexpected run error: %s", err)
	}

	if event.StatusCode != 201 || event.ResponseBody != "created" {
		t.Fatalf("expected script mutations to apply, got %+v", event)
	}
}

func TestRunReturnsUncaughtErrorsButLeavesEventIntact(t *testing.T) {
	sb := New()
	h, err := sb.Compile(`throw new Error("boom");`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	event := &MutableEvent{StatusCode: 200}
	runErr := Run(h, event, RequestInfo{}, time.Second)

	if runErr == nil {
		t.Fatalf("expected uncaught script error to be returned")
	}
	if event.StatusCode != 200 {
		t.Fatalf("expected event untouched after uncaught error, got %+v", event)
	}
}

func TestRunTerminatesOnTimeout(t *testing.T) {
	sb := New()
	h, err := sb.Compile(`while (true) {}`)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	event := &MutableEvent{StatusCode: 200}
	start := time.Now()
	runErr := Run(h, event, RequestInfo{}, 50*time.Millisecond)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("expected wall-clock timeout to terminate execution promptly, took %s", elapsed)
	}
	if runErr == nil {
		t.Fatalf("expected timeout to be reported as a run error")
	}
}
