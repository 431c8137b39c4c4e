package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/internal/metrics"
	"github.com/satriahrh/voicebridge/internal/tools"
)

const defaultToolTimeout = 10 * time.Second

// ToolOutcome is a finished tool call ready to be sent back to the provider.
type ToolOutcome struct {
	CallID string
	Name   string
	Output string
	Err    error
}

// ToolOrchestrator accumulates streamed function-call arguments and runs the
// matching handler once they are complete. Begin, Append, Complete, Resolve
// and Reset must only be called from the session loop; handlers run on their
// own goroutines and report back through the post callback.
type ToolOrchestrator struct {
	registry *tools.Registry
	timeout  time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	post     func(ToolOutcome)

	pending  map[string]*entities.PendingToolCall
	inflight map[string]string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewToolOrchestrator creates an orchestrator. post receives every outcome,
// including failures; it is called from handler goroutines.
func NewToolOrchestrator(registry *tools.Registry, timeout time.Duration, clk clock.Clock, logger *zap.Logger, post func(ToolOutcome)) *ToolOrchestrator {
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ToolOrchestrator{
		registry: registry,
		timeout:  timeout,
		clock:    clk,
		logger:   logger,
		post:     post,
		pending:  make(map[string]*entities.PendingToolCall),
		inflight: make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Begin opens a pending entry for callID.
func (o *ToolOrchestrator) Begin(callID, name string) {
	if _, ok := o.pending[callID]; ok {
		o.logger.Warn("Duplicate tool call ignored",
			zap.String("callID", callID),
			zap.String("tool", name))
		return
	}
	if _, ok := o.inflight[callID]; ok {
		o.logger.Warn("Tool call already running",
			zap.String("callID", callID),
			zap.String("tool", name))
		return
	}
	o.pending[callID] = entities.NewPendingToolCall(callID, name, o.clock.Now())
	o.logger.Debug("Tool call started",
		zap.String("callID", callID),
		zap.String("tool", name))
}

// Append buffers an argument fragment. Fragments for unknown calls are dropped.
func (o *ToolOrchestrator) Append(callID, delta string) {
	call, ok := o.pending[callID]
	if !ok {
		o.logger.Debug("Argument delta for unknown call dropped", zap.String("callID", callID))
		return
	}
	call.AppendArguments(delta)
}

// Complete closes argument streaming for callID and starts the handler.
// finalArgs is used only when no fragments were buffered. A call that was
// never begun is still executed under name so the provider gets an answer.
func (o *ToolOrchestrator) Complete(callID, name, finalArgs string) {
	args := finalArgs
	if call, ok := o.pending[callID]; ok {
		delete(o.pending, callID)
		if buffered := call.Arguments(); buffered != "" {
			args = buffered
		}
		if name == "" {
			name = call.Name
		}
	} else {
		o.logger.Warn("Arguments completed for unannounced call",
			zap.String("callID", callID),
			zap.String("tool", name))
	}

	o.inflight[callID] = name
	go o.execute(callID, name, args)
}

// Resolve marks callID as answered. It reports whether the call was in flight.
func (o *ToolOrchestrator) Resolve(callID string) bool {
	if _, ok := o.inflight[callID]; !ok {
		return false
	}
	delete(o.inflight, callID)
	return true
}

// Outstanding lists calls that are streaming arguments or running, sorted.
func (o *ToolOrchestrator) Outstanding() []string {
	out := make([]string, 0, len(o.pending)+len(o.inflight))
	for id := range o.pending {
		out = append(out, id)
	}
	for id := range o.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Idle reports whether nothing is pending or running.
func (o *ToolOrchestrator) Idle() bool {
	return len(o.pending) == 0 && len(o.inflight) == 0
}

// Reset forgets every call. Handlers already running still finish, but their
// outcomes no longer match an in-flight call.
func (o *ToolOrchestrator) Reset() {
	if n := len(o.pending) + len(o.inflight); n > 0 {
		o.logger.Info("Discarding outstanding tool calls", zap.Int("count", n))
	}
	o.pending = make(map[string]*entities.PendingToolCall)
	o.inflight = make(map[string]string)
}

// Stop cancels running handlers.
func (o *ToolOrchestrator) Stop() {
	o.cancel()
}

func (o *ToolOrchestrator) execute(callID, name, args string) {
	start := o.clock.Now()
	result, err := o.run(name, args)
	if err != nil {
		result = tools.Result{"ok": false, "error": err.Error()}
	} else if _, ok := result["ok"]; !ok {
		result["ok"] = true
	}

	status := "ok"
	if err != nil {
		status = "error"
		o.logger.Warn("Tool call failed",
			zap.String("callID", callID),
			zap.String("tool", name),
			zap.Error(err))
	}
	metrics.RecordToolCall(name, status, o.clock.Since(start).Seconds())

	output, merr := json.Marshal(result)
	if merr != nil {
		err = &domain.ToolError{Tool: name, Err: merr}
		output = []byte(fmt.Sprintf(`{"ok":false,"error":%q}`, "unencodable result"))
	}
	o.post(ToolOutcome{CallID: callID, Name: name, Output: string(output), Err: err})
}

type toolFailure struct {
	message string
}

func (f toolFailure) Error() string { return f.message }

func (o *ToolOrchestrator) run(name, args string) (result tools.Result, err error) {
	tool, ok := o.registry.Lookup(name)
	if !ok {
		return nil, toolFailure{"unknown tool: " + name}
	}

	if args == "" {
		args = "{}"
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(args), &obj); err != nil {
		return nil, toolFailure{"invalid arguments: " + err.Error()}
	}
	if obj == nil {
		return nil, toolFailure{"invalid arguments: expected a JSON object"}
	}
	if err := o.registry.Validate(tool, json.RawMessage(args)); err != nil {
		return nil, toolFailure{"invalid arguments: " + err.Error()}
	}

	ctx, cancel := o.clock.WithTimeout(o.ctx, o.timeout)
	defer cancel()

	type reply struct {
		result tools.Result
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: &domain.ToolError{Tool: name, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		res, err := tool.Handler(ctx, json.RawMessage(args))
		done <- reply{result: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, toolFailure{fmt.Sprintf("tool %s timed out", name)}
		}
		if r.err != nil {
			var te *domain.ToolError
			if errors.As(r.err, &te) {
				return nil, te
			}
			return nil, &domain.ToolError{Tool: name, Err: r.err}
		}
		if r.result == nil {
			r.result = tools.Result{}
		}
		return r.result, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, toolFailure{fmt.Sprintf("tool %s timed out", name)}
		}
		return nil, toolFailure{fmt.Sprintf("tool %s cancelled", name)}
	}
}
