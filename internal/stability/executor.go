package stability

import (
	"context"
	"time"

	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/session"
	"github.com/roelfdiedericks/imaginebot/internal/watermark"
)

// Generator produces an artifact for a sealed request. Implemented by
// Client; tests substitute scripted fakes.
type Generator interface {
	Generate(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error)
}

// Transport carries executor output back to the user. Implemented by
// the Telegram bot.
type Transport interface {
	SendText(identity, text string)
	SendArtifact(identity string, art *media.Artifact, caption string)
}

const (
	defaultMaxAttempts   = 3
	defaultBaseDelay     = time.Second
	defaultProgressEvery = 10 * time.Second

	progressText = "Processing is still in progress. Please wait."
)

// Executor runs dispatched requests in the background: retry with
// exponential backoff, periodic progress notices, the watermark
// delivery pipeline, and the run-token check that discards results of
// cancelled sessions.
type Executor struct {
	gen      Generator
	store    *session.Store
	pipeline *watermark.Pipeline
	tr       Transport

	maxAttempts   int
	baseDelay     time.Duration
	progressEvery time.Duration
}

// NewExecutor wires an executor. The transport is injected later via
// SetTransport because the bot and the executor reference each other.
func NewExecutor(gen Generator, store *session.Store, pipeline *watermark.Pipeline) *Executor {
	return &Executor{
		gen:           gen,
		store:         store,
		pipeline:      pipeline,
		maxAttempts:   defaultMaxAttempts,
		baseDelay:     defaultBaseDelay,
		progressEvery: defaultProgressEvery,
	}
}

// SetTransport installs the delivery transport. Must be called before
// the first Dispatch.
func (x *Executor) SetTransport(tr Transport) {
	x.tr = tr
}

// SetProgressInterval overrides how often the "still working" notice
// is sent.
func (x *Executor) SetProgressInterval(d time.Duration) {
	if d > 0 {
		x.progressEvery = d
	}
}

// Dispatch runs the request in the background.
func (x *Executor) Dispatch(req *session.GenerationRequest) {
	go x.run(req)
}

func (x *Executor) run(req *session.GenerationRequest) {
	start := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go x.progressLoop(ctx, req.Identity)

	art, err := x.execute(ctx, req)
	cancel()

	// The record must still carry our token for the result to count.
	// Otherwise the session was cancelled or replaced mid-flight.
	if !x.store.CompleteRun(req.Identity, req.RunToken) {
		L_debug("discarding result of cancelled session", "user", req.Identity, "request", req.ID)
		return
	}

	if err != nil {
		L_error("generation failed", "user", req.Identity, "workflow", string(req.Workflow), "request", req.ID, "error", err)
		x.tr.SendText(req.Identity, FormatErrorForUser(err))
		return
	}

	final := x.pipeline.Apply(art)
	L_elapsed(start, "generation complete", "user", req.Identity, "workflow", string(req.Workflow), "bytes", final.Size())
	x.tr.SendArtifact(req.Identity, final, captionFor(req))
}

// execute retries transient failures with doubling delays. Permanent
// failures and exhaustion return the last error.
func (x *Executor) execute(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	delay := x.baseDelay
	var lastErr error

	for attempt := 1; attempt <= x.maxAttempts; attempt++ {
		art, err := x.gen.Generate(ctx, req)
		if err == nil {
			return art, nil
		}
		lastErr = err

		if !IsTransientError(err) {
			return nil, err
		}
		if attempt == x.maxAttempts {
			break
		}

		L_warn("generation attempt failed, retrying", "user", req.Identity,
			"attempt", attempt, "delay", delay.String(), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, lastErr
}

// progressLoop tells the user the request is still alive while it
// runs.
func (x *Executor) progressLoop(ctx context.Context, identity string) {
	ticker := time.NewTicker(x.progressEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			x.tr.SendText(identity, progressText)
		}
	}
}

func captionFor(req *session.GenerationRequest) string {
	if p := req.Fields["prompt"]; p != "" {
		return p
	}
	return ""
}
