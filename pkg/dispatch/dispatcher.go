// Package dispatch runs the serialized task pipeline: a bounded queue fed
// by any number of producers and drained by exactly one worker goroutine.
// Every mutation of inventory or request state happens inside that worker,
// which is what lets the allocation engine skip per-row locking.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"relief/pkg/alloc"
	"relief/pkg/config"
	"relief/pkg/eventlog"
	"relief/pkg/interp"
	"relief/pkg/logx"
	"relief/pkg/mailbox"
	"relief/pkg/metrics"
	"relief/pkg/proto"
)

// ErrQueueFull is returned by Enqueue when the bounded queue is at
// capacity. Callers should surface this as backpressure, not retry
// blindly.
var ErrQueueFull = errors.New("task queue is full")

// ErrNotRunning is returned by Enqueue before Start or after Stop.
var ErrNotRunning = errors.New("dispatcher is not running")

const overloadMessage = "The coordination service is overloaded right now. Please try again in a few minutes."

const failureMessage = "Something went wrong while processing your request. The team has been notified."

// Dispatcher owns the task queue and its single worker.
type Dispatcher struct {
	queue    chan *proto.Task
	interp   interp.Interpreter
	executor *alloc.Executor
	mailbox  *mailbox.Mailbox
	eventLog *eventlog.Writer
	recorder *metrics.Recorder
	cfg      config.PipelineConfig
	logger   *logx.Logger

	lastCall time.Time // worker-only, guards the interpreter throttle
	rng      *rand.Rand

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a dispatcher. eventLog and recorder may be nil.
func New(cfg config.PipelineConfig, interpreter interp.Interpreter, executor *alloc.Executor,
	mbox *mailbox.Mailbox, eventLog *eventlog.Writer, recorder *metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		queue:    make(chan *proto.Task, cfg.QueueCapacity),
		interp:   interpreter,
		executor: executor,
		mailbox:  mbox,
		eventLog: eventLog,
		recorder: recorder,
		cfg:      cfg,
		logger:   logx.NewLogger("dispatch"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker goroutine. It is an error to start twice.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.wg.Add(1)
	go d.run(ctx)
	d.logger.Info("worker started, queue capacity %d", cap(d.queue))
	return nil
}

// Stop enqueues the poison task and waits for the worker to drain up to
// it. The ctx bounds the wait.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	select {
	case d.queue <- proto.NewPoisonTask():
	case <-ctx.Done():
		return fmt.Errorf("timed out enqueueing shutdown task: %w", ctx.Err())
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for worker: %w", ctx.Err())
	}
}

// Enqueue submits a task. It never blocks: a full queue returns
// ErrQueueFull immediately.
func (d *Dispatcher) Enqueue(task *proto.Task) error {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case d.queue <- task:
		d.recorder.SetQueueDepth(len(d.queue))
		d.logEvent("enqueued", task, "")
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth reports how many tasks are waiting.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("context cancelled, worker exiting")
			return
		case task := <-d.queue:
			d.recorder.SetQueueDepth(len(d.queue))
			if task.Kind == proto.KindPoison {
				d.logger.Info("poison task received, worker exiting")
				return
			}
			d.process(ctx, task)
		}
	}
}

// process runs one task to a terminal state or a requeue. A task failure
// never stops the loop.
func (d *Dispatcher) process(ctx context.Context, task *proto.Task) {
	switch task.Kind {
	case proto.KindDirect:
		d.processDirect(task)
	case proto.KindInterpret:
		d.processInterpret(ctx, task)
	default:
		d.logger.Error("task %s has unknown kind %q, dropping", task.ID, task.Kind)
		d.finish(task, failureMessage, true, "unknown kind")
	}
}

func (d *Dispatcher) processDirect(task *proto.Task) {
	if task.Call == nil {
		d.finish(task, failureMessage, true, "direct task without a tool call")
		return
	}
	d.attachSession(task, task.Call)
	output, err := d.executor.Execute(task.Persona, task.Call)
	if err != nil {
		d.logger.Error("task %s tool %s failed: %v", task.ID, task.Call.Name, err)
		d.finish(task, failureMessage, true, err.Error())
		return
	}
	d.finish(task, output, false, "")
}

func (d *Dispatcher) processInterpret(ctx context.Context, task *proto.Task) {
	d.throttle(ctx)

	start := time.Now()
	result, err := d.interp.Interpret(ctx, task.Persona, task.Payload)
	d.lastCall = time.Now()
	d.recorder.ObserveInterpretLatency(time.Since(start))

	if err != nil {
		d.handleInterpretError(ctx, task, err)
		return
	}

	output := result.Reply
	if result.Call != nil {
		d.attachSession(task, result.Call)
		output, err = d.executor.Execute(task.Persona, result.Call)
		if err != nil {
			d.logger.Error("task %s tool %s failed: %v", task.ID, result.Call.Name, err)
			d.finish(task, failureMessage, true, err.Error())
			return
		}
	}
	d.finish(task, output, false, "")
}

// attachSession carries the task's notification token onto the tool call.
// The interpreter never sees it, so it must be attached here for request
// rows to record where dispatch notifications should go.
func (d *Dispatcher) attachSession(task *proto.Task, call *proto.ToolCall) {
	if task.SessionRef != "" {
		call.Set("session_ref", task.SessionRef)
	}
}

// handleInterpretError retries retryable interpreter failures with a
// server-suggested wait when present, exponential backoff with jitter
// otherwise. The retried task re-enters at the back of the queue, so
// newer arrivals can overtake it.
func (d *Dispatcher) handleInterpretError(ctx context.Context, task *proto.Task, err error) {
	classified := interp.Classify(err)

	if !classified.IsRetryable() {
		d.logger.Error("task %s failed fatally: %v", task.ID, classified)
		d.finish(task, failureMessage, true, classified.Error())
		return
	}
	if task.RetryCount >= d.cfg.MaxRetries {
		d.logger.Error("task %s exhausted %d retries: %v", task.ID, task.RetryCount, classified)
		d.finish(task, overloadMessage, true, classified.Error())
		return
	}

	wait := classified.SuggestedWait
	if wait <= 0 {
		wait = d.backoff(task.RetryCount)
	}
	d.logger.Warn("task %s hit %s error, retry %d/%d in %s",
		task.ID, classified.Type, task.RetryCount+1, d.cfg.MaxRetries, wait.Round(time.Millisecond))
	d.recorder.ObserveRetry(classified.Type.String())
	d.logEvent("retried", task, classified.Type.String())

	if !sleepCtx(ctx, wait) {
		d.finish(task, overloadMessage, true, "shutdown during retry wait")
		return
	}

	task.RetryCount++
	select {
	case d.queue <- task:
		d.recorder.SetQueueDepth(len(d.queue))
	default:
		d.logger.Error("queue full, dropping retried task %s", task.ID)
		d.finish(task, overloadMessage, true, "queue full on requeue")
	}
}

// backoff computes min(cap, base*2^attempt) scaled by a random factor in
// [0.5, 1.0).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.cfg.BackoffBase) * math.Pow(2, float64(attempt))
	if capped := float64(d.cfg.BackoffCap); delay > capped {
		delay = capped
	}
	return time.Duration(delay * (0.5 + 0.5*d.rng.Float64()))
}

// throttle enforces the minimum interval between interpreter calls. The
// interpreter is a shared rate-limited resource, so the floor applies
// across all tasks and personas.
func (d *Dispatcher) throttle(ctx context.Context) {
	if d.lastCall.IsZero() {
		return
	}
	wait := d.cfg.ThrottleInterval - time.Since(d.lastCall)
	if wait <= 0 {
		return
	}
	d.logger.Debug("throttling %s before next interpreter call", wait.Round(time.Millisecond))
	d.recorder.ObserveThrottleWait(wait)
	sleepCtx(ctx, wait)
}

// finish writes the task's result to the mailbox and records metrics.
func (d *Dispatcher) finish(task *proto.Task, output string, failed bool, detail string) {
	d.mailbox.Append(task.RequesterID, proto.JobResult{
		RequesterID: task.RequesterID,
		TaskID:      task.ID,
		TaskName:    task.TaskName,
		Persona:     task.Persona,
		Output:      output,
		Failed:      failed,
		CompletedAt: time.Now().UTC(),
	})
	status := "completed"
	if failed {
		status = "failed"
	}
	d.recorder.ObserveTask(status, string(task.Persona))
	d.logEvent(status, task, detail)
}

func (d *Dispatcher) logEvent(kind string, task *proto.Task, detail string) {
	if d.eventLog == nil {
		return
	}
	if err := d.eventLog.Write(eventlog.TaskEvent(kind, task, detail)); err != nil {
		d.logger.Warn("event log write failed: %v", err)
	}
}

// sleepCtx sleeps for the duration unless ctx is cancelled first. Returns
// false if the sleep was interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
