package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/queue"
	"talent-inbox/pkg/events"
)

func (h *harness) handlers() *JobHandlers {
	return NewJobHandlers(h.connections, h.messages, h.candidates, h.scores, h.roles,
		NewProviders(h.mailbox), h.ingest(), h.oracle, h.queue, h.events, nil)
}

func (h *harness) role(t *testing.T, tenantID, title string, open bool) *domain.Role {
	t.Helper()
	r := &domain.Role{TenantID: tenantID, Title: title, Requirements: "Go, PostgreSQL", IsOpen: open}
	if err := h.roles.Save(r); err != nil {
		t.Fatalf("save role: %v", err)
	}
	return r
}

func (h *harness) candidate(t *testing.T, email, position string) *domain.CandidateRecord {
	t.Helper()
	c := &domain.CandidateRecord{TenantID: "tenant-1", Email: email, Name: "Test", DetectedPosition: position, ParseSource: domain.ParseSourceAI}
	if _, err := h.candidates.CreateOnce(c); err != nil {
		t.Fatalf("create candidate: %v", err)
	}
	return c
}

func job(kind string, payload interface{}, attempt, maxAttempts int) *queue.Job {
	data, _ := json.Marshal(payload)
	return &queue.Job{ID: "j1", Kind: kind, Payload: data, Attempt: attempt, MaxAttempts: maxAttempts}
}

func TestScoreCandidateMatchesRoleByTitle(t *testing.T) {
	h := newHarness(t)
	h.role(t, "tenant-1", "Product Designer", true)
	backend := h.role(t, "tenant-1", "Senior Backend Engineer", true)
	h.role(t, "tenant-2", "Backend Engineer", true)
	c := h.candidate(t, "john@gmail.com", "Backend Engineer")

	err := h.handlers().ScoreCandidate(context.Background(), job(queue.KindScoreCandidate, ScorePayload{CandidateID: c.ID}, 1, 3))
	if err != nil {
		t.Fatalf("score: %v", err)
	}

	scores, err := h.scores.FindByCandidate(c.ID)
	if err != nil || len(scores) != 1 {
		t.Fatalf("expected one score, got %v %v", scores, err)
	}
	if scores[0].RoleID != backend.ID || scores[0].OverallScore != 82 {
		t.Fatalf("unexpected score %+v", scores[0])
	}
	updated, _ := h.candidates.FindByID(c.ID)
	if updated.TargetRoleID == nil || *updated.TargetRoleID != backend.ID {
		t.Fatalf("candidate should be attached to matched role")
	}
	evs := h.events.OfType(events.ScoreUpserted)
	if len(evs) != 1 || evs[0].Score == nil || *evs[0].Score != 82 || evs[0].RoleID != backend.ID {
		t.Fatalf("unexpected score events %+v", evs)
	}
}

func TestScoreCandidateWithoutRoleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.role(t, "tenant-1", "Product Designer", true)
	c := h.candidate(t, "john@gmail.com", "Backend Engineer")

	score, err := h.handlers().Score(context.Background(), c.ID, "")
	if err != nil || score != nil {
		t.Fatalf("expected no score, got %+v %v", score, err)
	}
	if h.oracle.scoreCalls != 0 {
		t.Fatalf("oracle must not be called without a role")
	}
}

func TestRescoreLatestWins(t *testing.T) {
	h := newHarness(t)
	r := h.role(t, "tenant-1", "Backend Engineer", true)
	c := h.candidate(t, "john@gmail.com", "")
	jh := h.handlers()

	if _, err := jh.Score(context.Background(), c.ID, r.ID); err != nil {
		t.Fatalf("first score: %v", err)
	}
	h.oracle.score.OverallScore = 64
	if _, err := jh.Score(context.Background(), c.ID, r.ID); err != nil {
		t.Fatalf("second score: %v", err)
	}
	scores, _ := h.scores.FindByCandidate(c.ID)
	if len(scores) != 1 || scores[0].OverallScore != 64 {
		t.Fatalf("expected single latest score 64, got %+v", scores)
	}
}

func TestRescoreRoleQueuesAttachedCandidates(t *testing.T) {
	h := newHarness(t)
	r := h.role(t, "tenant-1", "Backend Engineer", true)
	for _, email := range []string{"a@x.io", "b@x.io"} {
		c := h.candidate(t, email, "")
		c.TargetRoleID = &r.ID
		if err := h.candidates.Update(c); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	h.candidate(t, "c@x.io", "")

	n, err := h.handlers().RescoreRole(context.Background(), r.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 queued, got %d %v", n, err)
	}
	for _, j := range h.queue.ofKind(queue.KindScoreCandidate) {
		if j.payload.(ScorePayload).RoleID != r.ID {
			t.Fatalf("rescore job missing role: %+v", j.payload)
		}
	}

	if _, err := h.handlers().RescoreRole(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifyEmailJob(t *testing.T) {
	h := newHarness(t)
	h.opts.DeferClassification = true
	h.deliver(ambiguousEmail("m1", "maria@example.org"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil || res.Outcome != OutcomeDeferred {
		t.Fatalf("ingest: %+v %v", res, err)
	}

	err = h.handlers().ClassifyEmail(context.Background(), job(queue.KindClassifyEmail, MessagePayload{MessageID: res.RecordID}, 1, 3))
	if err != nil {
		t.Fatalf("classify job: %v", err)
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusImported {
		t.Fatalf("expected IMPORTED, got %s", rec.Status)
	}
}

func TestProcessCVJobRetriesFailedImport(t *testing.T) {
	h := newHarness(t)
	h.opts.StrictResumeParsing = true
	h.oracle.parseErr = errors.New("model unavailable")
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))

	res, _ := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed import, got %+v", res)
	}

	jh := h.handlers()
	if _, err := jh.EnqueueReprocess(context.Background(), res.RecordID); err != nil {
		t.Fatalf("enqueue reprocess: %v", err)
	}
	if len(h.queue.ofKind(queue.KindProcessCV)) != 1 {
		t.Fatalf("expected process-cv job")
	}

	h.oracle.parseErr = nil
	if err := jh.ProcessCV(context.Background(), job(queue.KindProcessCV, MessagePayload{MessageID: res.RecordID}, 1, 3)); err != nil {
		t.Fatalf("process cv: %v", err)
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusImported {
		t.Fatalf("expected IMPORTED, got %s", rec.Status)
	}

	if _, err := jh.EnqueueReprocess(context.Background(), res.RecordID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("imported message cannot be reprocessed, got %v", err)
	}
}
