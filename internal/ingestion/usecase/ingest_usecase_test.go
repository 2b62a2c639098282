package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/queue"
	"talent-inbox/internal/triage"
	"talent-inbox/pkg/events"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func openSession(t *testing.T, h *harness) domain.MailSession {
	t.Helper()
	sess, err := h.mailbox.Open(context.Background(), h.conn, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess
}

func TestIngestImportsApplication(t *testing.T) {
	h := newHarness(t)
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != OutcomeImported {
		t.Fatalf("expected imported, got %s (%s)", res.Outcome, res.Reason)
	}
	if h.oracle.classifyCalls != 0 {
		t.Fatalf("rule-classified message must not call the oracle, got %d calls", h.oracle.classifyCalls)
	}

	rec := h.record(t, "m1")
	if rec.Status != domain.StatusImported || rec.ProcessedAt == nil {
		t.Fatalf("expected IMPORTED with processedAt, got %s", rec.Status)
	}
	if rec.ClassificationConfidence != 90 || rec.DetectedPosition != "Backend Engineer" {
		t.Fatalf("unexpected verdict %d/%q", rec.ClassificationConfidence, rec.DetectedPosition)
	}
	if rec.CandidateID == nil || *rec.CandidateID != res.CandidateID {
		t.Fatalf("record not linked to candidate")
	}

	c, err := h.candidates.FindByID(res.CandidateID)
	if err != nil || c == nil {
		t.Fatalf("candidate not stored: %v", err)
	}
	if c.Email != "john.smith@gmail.com" || c.ParseSource != domain.ParseSourceAI {
		t.Fatalf("unexpected candidate %s/%s", c.Email, c.ParseSource)
	}
	if c.ResumeFilename != "resume_john.pdf" || c.ResumeText == "" {
		t.Fatalf("resume not attached to candidate")
	}
	if len(h.oracle.parsedFiles) != 1 || h.oracle.parsedFiles[0] != "resume_john.pdf" {
		t.Fatalf("resume parser should receive the attachment name, got %v", h.oracle.parsedFiles)
	}

	if got := h.events.OfType(events.CandidateCreated); len(got) != 1 || got[0].CandidateID != c.ID {
		t.Fatalf("expected one candidate.created event, got %+v", got)
	}
	jobs := h.queue.ofKind(queue.KindScoreCandidate)
	if len(jobs) != 1 || jobs[0].payload.(ScorePayload).CandidateID != c.ID {
		t.Fatalf("expected scoring job for candidate, got %+v", jobs)
	}
}

func TestIngestSkipsOutOfOfficeWithoutOracle(t *testing.T) {
	h := newHarness(t)
	h.deliver(&domain.InboundEmail{
		ID:          "ooo",
		Subject:     "Re: Out of Office",
		FromAddress: "jane@gmail.com",
		TextBody:    "I am away until Monday.",
	})

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "ooo")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != OutcomeSkipped || !strings.Contains(res.Reason, "auto-reply") {
		t.Fatalf("expected auto-reply skip, got %s (%s)", res.Outcome, res.Reason)
	}
	if h.oracle.classifyCalls != 0 {
		t.Fatalf("skipped message must not reach the oracle")
	}
	rec := h.record(t, "ooo")
	if rec.Status != domain.StatusSkipped || rec.TriageAction != "skip" {
		t.Fatalf("unexpected record %s/%s", rec.Status, rec.TriageAction)
	}
}

func TestIngestLowExtractionConfidenceFails(t *testing.T) {
	h := newHarness(t)
	h.extractor.confidence = 25
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if !errors.Is(err, domain.ErrLowExtractionConfidence) {
		t.Fatalf("expected low extraction confidence error, got %v", err)
	}
	if res == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", res)
	}

	rec := h.record(t, "m1")
	if rec.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if !strings.Contains(rec.ErrorMessage, "extraction") {
		t.Fatalf("error message should mention extraction, got %q", rec.ErrorMessage)
	}
	if n := h.count(t, &domain.CandidateRecord{}); n != 0 {
		t.Fatalf("expected no candidate, got %d", n)
	}
	if h.oracle.parseCalls != 0 {
		t.Fatalf("unreadable resume must not be parsed")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))
	uc := h.ingest()
	sess := openSession(t, h)

	first, err := uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil || first.Outcome != OutcomeImported {
		t.Fatalf("first ingest: %+v %v", first, err)
	}
	second, err := uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.Outcome != OutcomeDuplicate || second.RecordID != first.RecordID {
		t.Fatalf("expected duplicate of %s, got %+v", first.RecordID, second)
	}

	if n := h.count(t, &domain.InboundMessageRecord{}); n != 1 {
		t.Fatalf("expected 1 message record, got %d", n)
	}
	if n := h.count(t, &domain.CandidateRecord{}); n != 1 {
		t.Fatalf("expected 1 candidate, got %d", n)
	}
	if h.mailbox.getCalls["m1"] != 1 {
		t.Fatalf("duplicate must not refetch the message, got %d fetches", h.mailbox.getCalls["m1"])
	}
}

func TestConfidenceGateBoundary(t *testing.T) {
	cases := []struct {
		confidence int
		want       Outcome
	}{
		{79, OutcomeSkipped},
		{80, OutcomeImported},
	}

	for _, tc := range cases {
		h := newHarness(t)
		h.oracle.classification.Confidence = tc.confidence
		h.deliver(ambiguousEmail("m1", "maria@example.org"))

		res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
		if err != nil {
			t.Fatalf("confidence %d: %v", tc.confidence, err)
		}
		if res.Outcome != tc.want {
			t.Fatalf("confidence %d: expected %s, got %s (%s)", tc.confidence, tc.want, res.Outcome, res.Reason)
		}
		if h.oracle.classifyCalls != 1 {
			t.Fatalf("confidence %d: expected one oracle call, got %d", tc.confidence, h.oracle.classifyCalls)
		}
		if tc.want == OutcomeSkipped {
			if !strings.Contains(res.Reason, "below threshold") {
				t.Fatalf("unexpected skip reason %q", res.Reason)
			}
			if h.oracle.parseCalls != 0 {
				t.Fatalf("skipped message must not be parsed")
			}
		}
	}
}

func TestGateRequiresJobApplicationAndAutoImport(t *testing.T) {
	h := newHarness(t)
	h.oracle.classification.IsJobApplication = false
	h.deliver(ambiguousEmail("m1", "maria@example.org"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil || res.Outcome != OutcomeSkipped || res.Reason != "not a job application" {
		t.Fatalf("expected not-a-job-application skip, got %+v %v", res, err)
	}

	h = newHarness(t)
	h.conn.AutoImport = false
	h.deliver(applicationEmail("m2", "john@gmail.com", "resume_john.pdf"))
	res, err = h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m2")
	if err != nil || res.Outcome != OutcomeSkipped || !strings.Contains(res.Reason, "auto-import disabled") {
		t.Fatalf("expected auto-import skip, got %+v %v", res, err)
	}
	if n := h.count(t, &domain.CandidateRecord{}); n != 0 {
		t.Fatalf("expected no candidate, got %d", n)
	}
}

func TestCandidateDedupIsPerTenant(t *testing.T) {
	h := newHarness(t)
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))
	h.deliver(applicationEmail("m2", "john@gmail.com", "resume_john.pdf"))
	uc := h.ingest()
	sess := openSession(t, h)

	first, err := uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil || first.Outcome != OutcomeImported {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := uc.Ingest(context.Background(), h.conn, sess, "m2")
	if err != nil {
		t.Fatalf("duplicate candidate must not be an error: %v", err)
	}
	if second.Outcome != OutcomeSkipped || second.Reason != reasonDuplicateCandidate {
		t.Fatalf("expected duplicate candidate skip, got %+v", second)
	}
	if rec := h.record(t, "m2"); rec.CandidateID == nil || *rec.CandidateID != first.CandidateID {
		t.Fatalf("skipped record should point at existing candidate")
	}

	other := &domain.MailboxConnection{
		TenantID:     "tenant-2",
		Provider:     domain.ProviderGmail,
		EmailAddress: "talent@globex.com",
		IsActive:     true,
		AutoImport:   true,
	}
	if err := h.connections.Create(other); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	third, err := uc.Ingest(context.Background(), other, sess, "m1")
	if err != nil || third.Outcome != OutcomeImported {
		t.Fatalf("other tenant should import the same candidate: %+v %v", third, err)
	}
	if n := h.count(t, &domain.CandidateRecord{}); n != 2 {
		t.Fatalf("expected one candidate per tenant, got %d", n)
	}
}

func TestResumeParseFailureFallsBackToFilename(t *testing.T) {
	h := newHarness(t)
	h.oracle.parseErr = errors.New("model unavailable")
	h.deliver(applicationEmail("m1", "jdoe@gmail.com", "resume_john.pdf"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("expected import with fallback, got %+v %v", res, err)
	}
	c, _ := h.candidates.FindByID(res.CandidateID)
	if c.ParseSource != domain.ParseSourceFilename {
		t.Fatalf("expected filename fallback, got %s", c.ParseSource)
	}
	if c.Name != "John" || c.Email != "jdoe@gmail.com" {
		t.Fatalf("unexpected fallback candidate %q <%s>", c.Name, c.Email)
	}
}

func TestStrictResumeParsingFailsAndReprocesses(t *testing.T) {
	h := newHarness(t)
	h.opts.StrictResumeParsing = true
	h.oracle.parseErr = errors.New("model unavailable")
	h.deliver(applicationEmail("m1", "jdoe@gmail.com", "resume_john.pdf"))
	sess := openSession(t, h)

	res, err := h.ingest().Ingest(context.Background(), h.conn, sess, "m1")
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure in strict mode, got %+v %v", res, err)
	}
	rec := h.record(t, "m1")
	if rec.Status != domain.StatusFailed || rec.Attempts != 1 {
		t.Fatalf("expected FAILED after one attempt, got %s/%d", rec.Status, rec.Attempts)
	}

	h.oracle.parseErr = nil
	res, err = h.ingest().Reprocess(context.Background(), h.conn, sess, rec)
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("reprocess: %+v %v", res, err)
	}
	rec = h.record(t, "m1")
	if rec.Status != domain.StatusImported || rec.Attempts != 2 || rec.ErrorMessage != "" {
		t.Fatalf("unexpected record after reprocess %s/%d/%q", rec.Status, rec.Attempts, rec.ErrorMessage)
	}
	if h.oracle.classifyCalls != 0 {
		t.Fatalf("existing verdict should be reused")
	}
}

func TestOracleErrorFailsMessage(t *testing.T) {
	h := newHarness(t)
	h.oracle.classifyErr = errors.New("deadline exceeded")
	h.deliver(ambiguousEmail("m1", "maria@example.org"))

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure, got %+v %v", res, err)
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusFailed || !strings.Contains(rec.ErrorMessage, "classification failed") {
		t.Fatalf("unexpected record %s %q", rec.Status, rec.ErrorMessage)
	}
}

func TestImportWithoutAttachmentUsesSender(t *testing.T) {
	h := newHarness(t)
	h.deliver(&domain.InboundEmail{
		ID:          "m1",
		Subject:     "Question about the open position",
		FromAddress: "Sam.Lee@Example.org",
		FromName:    "Sam Lee",
		TextBody:    "I would love to be considered for the role.",
	})

	res, err := h.ingest().Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("expected import, got %+v %v", res, err)
	}
	c, _ := h.candidates.FindByID(res.CandidateID)
	if c.ParseSource != domain.ParseSourceSender || c.Name != "Sam Lee" || c.Email != "sam.lee@example.org" {
		t.Fatalf("unexpected candidate %+v", c)
	}
	if h.oracle.parseCalls != 0 {
		t.Fatalf("no resume to parse")
	}
}

func TestDeferredClassification(t *testing.T) {
	h := newHarness(t)
	h.opts.DeferClassification = true
	h.deliver(ambiguousEmail("m1", "maria@example.org"))
	uc := h.ingest()
	sess := openSession(t, h)

	res, err := uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil || res.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred, got %+v %v", res, err)
	}
	if h.oracle.classifyCalls != 0 {
		t.Fatalf("deferred message must not call the oracle inline")
	}
	jobs := h.queue.ofKind(queue.KindClassifyEmail)
	if len(jobs) != 1 || jobs[0].payload.(MessagePayload).MessageID != res.RecordID {
		t.Fatalf("expected classify job for %s, got %+v", res.RecordID, jobs)
	}

	rec := h.record(t, "m1")
	if rec.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}

	h.oracle.classifyErr = errors.New("rate limited")
	if _, err := uc.ClassifyDeferred(context.Background(), h.conn, sess, rec, false); err == nil {
		t.Fatalf("expected error from non-final attempt")
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusPending {
		t.Fatalf("non-final failure must keep PENDING, got %s", rec.Status)
	}

	h.oracle.classifyErr = nil
	res, err = uc.ClassifyDeferred(context.Background(), h.conn, sess, h.record(t, "m1"), false)
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("expected import after deferred classification, got %+v %v", res, err)
	}
}

func TestDeferredClassificationFinalFailure(t *testing.T) {
	h := newHarness(t)
	h.opts.DeferClassification = true
	h.deliver(ambiguousEmail("m1", "maria@example.org"))
	uc := h.ingest()
	sess := openSession(t, h)

	if _, err := uc.Ingest(context.Background(), h.conn, sess, "m1"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h.oracle.classifyErr = errors.New("rate limited")
	res, err := uc.ClassifyDeferred(context.Background(), h.conn, sess, h.record(t, "m1"), true)
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("expected failure on final attempt, got %+v %v", res, err)
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
}

func TestCancelledIngestStoresNothing(t *testing.T) {
	h := newHarness(t)
	h.deliver(ambiguousEmail("m1", "maria@example.org"))
	uc := h.ingest()
	sess := openSession(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := uc.Ingest(ctx, h.conn, sess, "m1")
	if !errors.Is(err, context.Canceled) || res != nil {
		t.Fatalf("expected bare context.Canceled, got %+v %v", res, err)
	}
	if rec, _ := h.messages.FindByProviderID(h.conn.ID, "m1"); rec != nil {
		t.Fatalf("cancelled classification stored a %s record", rec.Status)
	}

	res, err = uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("retry after cancellation: %+v %v", res, err)
	}
}

func TestCancelledImportDiscardsRecord(t *testing.T) {
	h := newHarness(t)
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))
	h.extractor.err = context.Canceled
	uc := h.ingest()
	sess := openSession(t, h)

	res, err := uc.Ingest(context.Background(), h.conn, sess, "m1")
	if !errors.Is(err, context.Canceled) || res != nil {
		t.Fatalf("expected bare context.Canceled, got %+v %v", res, err)
	}
	if rec, _ := h.messages.FindByProviderID(h.conn.ID, "m1"); rec != nil {
		t.Fatalf("interrupted import left a %s record", rec.Status)
	}

	h.extractor.err = nil
	res, err = uc.Ingest(context.Background(), h.conn, sess, "m1")
	if err != nil || res.Outcome != OutcomeImported {
		t.Fatalf("retry after interruption: %+v %v", res, err)
	}
	if rec := h.record(t, "m1"); rec.Status != domain.StatusImported {
		t.Fatalf("expected IMPORTED, got %s", rec.Status)
	}
}

// racingCandidates loses every create race and then fails the follow-up lookup.
type racingCandidates struct {
	repository.CandidateRepository
	lookups int
}

func (r *racingCandidates) CreateOnce(*domain.CandidateRecord) (bool, error) { return false, nil }

func (r *racingCandidates) FindByEmail(string, string) (*domain.CandidateRecord, error) {
	r.lookups++
	if r.lookups > 1 {
		return nil, errors.New("connection reset")
	}
	return nil, nil
}

func TestLostCandidateRaceLogsLookupFailure(t *testing.T) {
	h := newHarness(t)
	h.deliver(applicationEmail("m1", "john@gmail.com", "resume_john.pdf"))
	core, logs := observer.New(zapcore.InfoLevel)
	uc := NewIngestUsecase(h.messages, &racingCandidates{CandidateRepository: h.candidates},
		triage.NewEngine(triage.Settings{Enabled: true, AutoClassifyEnabled: true}),
		h.oracle, h.extractor, h.queue, h.events, h.opts, zap.New(core))

	res, err := uc.Ingest(context.Background(), h.conn, openSession(t, h), "m1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != reasonDuplicateCandidate || res.CandidateID != "" {
		t.Fatalf("expected duplicate-candidate skip without id, got %+v", res)
	}
	entries := logs.FilterMessage("candidate lookup after concurrent create failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["error"] != "connection reset" {
		t.Fatalf("lookup failure not logged: %+v", entries)
	}
}

func TestNameFromFilename(t *testing.T) {
	cases := map[string]string{
		"resume_john.pdf":          "John",
		"John-Doe-CV-2024.docx":    "John Doe",
		"CV_maria_lopez_final.pdf": "Maria Lopez",
		"cv.pdf":                   "",
	}
	for in, want := range cases {
		if got := nameFromFilename(in); got != want {
			t.Fatalf("nameFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPlainBodyStripsHTML(t *testing.T) {
	email := &domain.InboundEmail{HTMLBody: "<p>I am applying for the <b>Data&nbsp;Analyst</b> role.</p>"}
	if got := plainBody(email); got != "I am applying for the Data Analyst role." {
		t.Fatalf("unexpected plain body %q", got)
	}
}
