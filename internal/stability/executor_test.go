package stability

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/session"
	"github.com/roelfdiedericks/imaginebot/internal/watermark"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req *session.GenerationRequest) (*media.Artifact, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	return g.fn(call, req)
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeTransport struct {
	mu        sync.Mutex
	texts     []string
	artifacts []*media.Artifact
	captions  []string
}

func (t *fakeTransport) SendText(identity, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
}

func (t *fakeTransport) SendArtifact(identity string, art *media.Artifact, caption string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifacts = append(t.artifacts, art)
	t.captions = append(t.captions, caption)
}

func setupExecutor(t *testing.T, gen Generator) (*Executor, *session.Store, *fakeTransport) {
	t.Helper()
	store := session.NewStore()
	pipeline := watermark.NewPipeline(watermark.NewToggle(false), "missing-logo.png")
	x := NewExecutor(gen, store, pipeline)
	x.baseDelay = time.Millisecond
	x.progressEvery = time.Hour // keep progress chatter out of tests
	tr := &fakeTransport{}
	x.SetTransport(tr)
	return x, store, tr
}

// seedProcessing puts a record into the state the engine leaves it in
// right after dispatch.
func seedProcessing(store *session.Store, identity, token string, w session.Workflow) *session.GenerationRequest {
	store.Create(identity, w, false, nil)
	store.Update(identity, func(r *session.Record) error {
		r.Processing = true
		r.RunToken = token
		return nil
	})
	return &session.GenerationRequest{
		ID:       "req-1",
		Identity: identity,
		Workflow: w,
		RunToken: token,
		Fields:   map[string]string{"prompt": "a red barn at sunset"},
		Images:   map[string][]byte{},
	}
}

var testArtifact = &media.Artifact{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MIME: "image/png"}

func TestExecutorDeliversOnSuccess(t *testing.T) {
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		return testArtifact, nil
	}}
	x, store, tr := setupExecutor(t, gen)
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if gen.callCount() != 1 {
		t.Errorf("calls = %d, want 1", gen.callCount())
	}
	if len(tr.artifacts) != 1 {
		t.Fatalf("artifacts delivered = %d, want 1", len(tr.artifacts))
	}
	if tr.captions[0] != "a red barn at sunset" {
		t.Errorf("caption = %q", tr.captions[0])
	}
	if store.Len() != 0 {
		t.Error("record should be deleted after delivery")
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		if call < 3 {
			return nil, &APIError{Op: "test", Status: 503, Body: "overloaded"}
		}
		return testArtifact, nil
	}}
	x, store, tr := setupExecutor(t, gen)
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if gen.callCount() != 3 {
		t.Errorf("calls = %d, want 3", gen.callCount())
	}
	if len(tr.artifacts) != 1 {
		t.Error("third attempt should have delivered")
	}
}

func TestExecutorRetryDelaysIncrease(t *testing.T) {
	var stamps []time.Time
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		stamps = append(stamps, time.Now())
		if call < 3 {
			return nil, &APIError{Op: "test", Status: 503, Body: "overloaded"}
		}
		return testArtifact, nil
	}}
	x, store, _ := setupExecutor(t, gen)
	x.baseDelay = 30 * time.Millisecond
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(stamps))
	}
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	if first < x.baseDelay {
		t.Errorf("first retry after %v, want at least %v", first, x.baseDelay)
	}
	if second <= first {
		t.Errorf("delay must grow between attempts, got %v then %v", first, second)
	}
}

func TestExecutorGivesUpAfterMaxAttempts(t *testing.T) {
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		return nil, &APIError{Op: "test", Status: 500, Body: "boom"}
	}}
	x, store, tr := setupExecutor(t, gen)
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if gen.callCount() != defaultMaxAttempts {
		t.Errorf("calls = %d, want %d", gen.callCount(), defaultMaxAttempts)
	}
	if len(tr.artifacts) != 0 {
		t.Error("nothing should be delivered on failure")
	}
	if len(tr.texts) != 1 || !strings.Contains(tr.texts[0], "temporarily unavailable") {
		t.Errorf("expected transient failure message, got %v", tr.texts)
	}
	if store.Len() != 0 {
		t.Error("record must be deleted on failure too")
	}
}

func TestExecutorDoesNotRetryPermanentErrors(t *testing.T) {
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		return nil, &APIError{Op: "test", Status: 400, Body: "bad request"}
	}}
	x, store, tr := setupExecutor(t, gen)
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if gen.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", gen.callCount())
	}
	if len(tr.texts) != 1 || !strings.Contains(tr.texts[0], "rejected your request") {
		t.Errorf("expected rejection message, got %v", tr.texts)
	}
	if store.Len() != 0 {
		t.Errorf("store should be empty after a permanent failure, have %d", store.Len())
	}
}

func TestExecutorReportsContentFilter(t *testing.T) {
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		return nil, ErrContentFiltered
	}}
	x, store, tr := setupExecutor(t, gen)
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if gen.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (moderation is permanent)", gen.callCount())
	}
	if len(tr.texts) != 1 || !strings.Contains(tr.texts[0], "content moderation") {
		t.Errorf("expected moderation message, got %v", tr.texts)
	}
}

func TestExecutorDiscardsCancelledRun(t *testing.T) {
	var store *session.Store
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		// User cancels while the request is in flight
		store.Delete(req.Identity)
		return testArtifact, nil
	}}
	x, st, tr := setupExecutor(t, gen)
	store = st
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if len(tr.artifacts) != 0 || len(tr.texts) != 0 {
		t.Errorf("cancelled run must stay silent, got %v %v", tr.artifacts, tr.texts)
	}
}

func TestExecutorDiscardsReplacedRun(t *testing.T) {
	var store *session.Store
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		// User starts a fresh workflow while the request is in flight
		store.Create(req.Identity, session.WorkflowErase, false, nil)
		return testArtifact, nil
	}}
	x, st, tr := setupExecutor(t, gen)
	store = st
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	x.run(req)

	if len(tr.artifacts) != 0 {
		t.Error("replaced run must not deliver")
	}
	if _, ok := store.Snapshot("1"); !ok {
		t.Error("the replacement session must survive the discard")
	}
}

func TestExecutorProgressNotice(t *testing.T) {
	release := make(chan struct{})
	gen := &scriptedGenerator{fn: func(call int, req *session.GenerationRequest) (*media.Artifact, error) {
		<-release
		return testArtifact, nil
	}}
	x, store, tr := setupExecutor(t, gen)
	x.progressEvery = 5 * time.Millisecond
	req := seedProcessing(store, "1", "tok", session.WorkflowGenerate)

	done := make(chan struct{})
	go func() {
		x.run(req)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)
	<-done

	tr.mu.Lock()
	progress := 0
	for _, msg := range tr.texts {
		if strings.Contains(msg, "still in progress") {
			progress++
		}
	}
	tr.mu.Unlock()
	if progress == 0 {
		t.Error("expected at least one progress notice for a slow run")
	}
	if len(tr.artifacts) != 1 {
		t.Error("artifact should still be delivered")
	}
}
