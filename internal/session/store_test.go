package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreCreateReplacesExisting(t *testing.T) {
	s := NewStore()

	s.Create("u1", WorkflowGenerate, false, nil)
	if err := s.Update("u1", func(r *Record) error {
		r.Fields["prompt"] = "a red barn"
		return nil
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	s.Create("u1", WorkflowUpscale, false, nil)
	r, ok := s.Snapshot("u1")
	if !ok {
		t.Fatal("record missing after create")
	}
	if r.Workflow != WorkflowUpscale {
		t.Errorf("workflow = %s, want %s", r.Workflow, WorkflowUpscale)
	}
	if len(r.Fields) != 0 {
		t.Errorf("replacement record should start empty, got %v", r.Fields)
	}
	if s.Len() != 1 {
		t.Errorf("store should hold exactly one record per identity, got %d", s.Len())
	}
}

func TestStoreUpdateRefreshesActivity(t *testing.T) {
	s := NewStore()
	s.Create("u1", WorkflowGenerate, false, nil)

	// Backdate the record and stamp a pending nudge
	before := time.Now().Add(-time.Hour)
	s.Sweep("u1", func(r *Record) bool {
		r.LastActivity = before
		r.LastNudge = before
		r.MissedSteps = 1
		return false
	})

	if err := s.Update("u1", func(r *Record) error { return nil }); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	snap, ok := s.Snapshot("u1")
	if !ok {
		t.Fatal("record missing after update")
	}
	if !snap.LastActivity.After(before) {
		t.Error("successful update should refresh LastActivity")
	}
	if !snap.LastNudge.IsZero() || snap.MissedSteps != 0 {
		t.Error("successful update should clear nudge state")
	}
}

func TestStoreUpdateErrorLeavesRecordAlone(t *testing.T) {
	s := NewStore()
	s.Create("u1", WorkflowGenerate, false, nil)

	before, _ := s.Snapshot("u1")
	werr := fmt.Errorf("rejected")
	if err := s.Update("u1", func(r *Record) error { return werr }); err != werr {
		t.Fatalf("update error = %v, want %v", err, werr)
	}

	after, _ := s.Snapshot("u1")
	if !after.LastActivity.Equal(before.LastActivity) {
		t.Error("failed update must not refresh LastActivity")
	}
}

func TestStoreUpdateNoSession(t *testing.T) {
	s := NewStore()
	if err := s.Update("ghost", func(r *Record) error { return nil }); err != ErrNoSession {
		t.Errorf("err = %v, want ErrNoSession", err)
	}
}

func TestStoreCompleteRunTokenCheck(t *testing.T) {
	s := NewStore()
	s.Create("u1", WorkflowGenerate, false, nil)
	s.Update("u1", func(r *Record) error {
		r.Processing = true
		r.RunToken = "token-a"
		return nil
	})

	if s.CompleteRun("u1", "token-b") {
		t.Error("mismatched token must not complete the run")
	}
	if _, ok := s.Snapshot("u1"); !ok {
		t.Fatal("record should survive a mismatched completion")
	}

	if !s.CompleteRun("u1", "token-a") {
		t.Error("matching token should complete the run")
	}
	if _, ok := s.Snapshot("u1"); ok {
		t.Error("record should be gone after completion")
	}
	if s.CompleteRun("u1", "token-a") {
		t.Error("completion is one-shot")
	}
}

func TestStoreCompleteRunAfterCancel(t *testing.T) {
	s := NewStore()
	s.Create("u1", WorkflowGenerate, false, nil)
	s.Update("u1", func(r *Record) error {
		r.Processing = true
		r.RunToken = "token-a"
		return nil
	})

	if !s.Delete("u1") {
		t.Fatal("delete failed")
	}
	if s.CompleteRun("u1", "token-a") {
		t.Error("cancelled session must not accept its old run token")
	}
}

func TestStoreConcurrentIdentities(t *testing.T) {
	s := NewStore()
	const users = 16
	const updates = 50

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		id := fmt.Sprintf("u%d", i)
		s.Create(id, WorkflowGenerate, false, nil)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < updates; j++ {
				s.Update(id, func(r *Record) error {
					r.Fields["n"] = fmt.Sprintf("%d", j)
					return nil
				})
			}
		}(id)
	}
	wg.Wait()

	if s.Len() != users {
		t.Errorf("store len = %d, want %d", s.Len(), users)
	}
}

func TestStoreConcurrentSameIdentity(t *testing.T) {
	s := NewStore()
	s.Create("u1", WorkflowGenerate, false, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Update("u1", func(r *Record) error {
					var n int
					fmt.Sscanf(r.Fields["count"], "%d", &n)
					r.Fields["count"] = fmt.Sprintf("%d", n+1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	// Serialized access means no increment is lost.
	snap, _ := s.Snapshot("u1")
	if snap.Fields["count"] != "800" {
		t.Fatalf("count = %q, want 800", snap.Fields["count"])
	}
}
