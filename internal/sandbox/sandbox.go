// Package sandbox runs user-supplied custom-script logic against an
// ingested event inside an isolated goja VM, with no filesystem or
// network access and a hard wall-clock timeout.
package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/ar27111994/webhook-debugger-logger-sub003/log"
)

// MutableEvent is the subset of an ingested event a script is allowed to
// read and mutate in place.
type MutableEvent struct {
	StatusCode      int               `json:"statusCode"`
	ResponseBody    string            `json:"responseBody"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	Body            string            `json:"body"`
	Headers         map[string][]string `json:"headers"`
	Query           map[string][]string `json:"query"`
	Method          string            `json:"method"`
	WebhookID       string            `json:"webhookId"`
}

// RequestInfo is the read-only request context exposed to the script as
// req.
type RequestInfo struct {
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Query  map[string][]string `json:"query"`
}

// Handle is a compiled script, cached by source identity.
type Handle struct {
	source  string
	program *goja.Program
}

// Sandbox compiles and runs custom scripts, caching the most recently
// compiled program against its exact source text.
type Sandbox struct {
	mu     sync.Mutex
	cached *Handle
}

// New constructs an empty Sandbox.
func New() *Sandbox {
	return &Sandbox{}
}

// Compile returns a Handle for source, reusing the cached compilation if
// source is byte-identical to the last one compiled.
func (s *Sandbox) Compile(source string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cached.source == source {
		return s.cached, nil
	}

	program, err := goja.Compile("custom-script.js", source, false)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile: %w", err)
	}

	h := &Handle{source: source, program: program}
	s.cached = h
	return h, nil
}

// consoleLog collects console.log/error/warn calls made by the script,
// for inclusion in diagnostic logging only; scripts have no other I/O.
type consoleLog struct {
	lines []string
}

func (c *consoleLog) record(args ...interface{}) {
	c.lines = append(c.lines, fmt.Sprint(args...))
}

// Run executes handle against event and req inside a fresh VM, enforcing
// timeout as a wall-clock deadline. Compile or runtime errors, and
// timeouts, are logged and returned for metrics purposes only: event is
// left as whatever state the script reached before failing, and the
// caller's ingestion pipeline never aborts a request because of it.
func Run(handle *Handle, event *MutableEvent, req RequestInfo, timeout time.Duration) error {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	console := &consoleLog{}
	consoleObj := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		console.record(args...)
		return goja.Undefined()
	}
	consoleObj.Set("log", logFn)
	consoleObj.Set("error", logFn)
	consoleObj.Set("warn", logFn)
	vm.Set("console", consoleObj)

	vm.Set("event", event)
	vm.Set("req", req)

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("script execution timed out")
	})
	defer timer.Stop()

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("panic: %v", r)
			}
		}()
		_, runErr = vm.RunProgram(handle.program)
	}()
	<-done

	if runErr != nil {
		log.Errorf("custom script error for webhook %s: %s", event.WebhookID, runErr)
	}
	if len(console.lines) > 0 {
		log.Debugf("custom script console output for webhook %s: %v", event.WebhookID, console.lines)
	}
	return runErr
}
