package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/queue"
	"talent-inbox/internal/triage"
	"talent-inbox/pkg/ai"
	"talent-inbox/pkg/events"
	"talent-inbox/pkg/extractor"
	"talent-inbox/pkg/metrics"

	"go.uber.org/zap"
)

const (
	defaultAutoImportThreshold     = 80
	defaultMinExtractionConfidence = 30

	reasonDuplicateCandidate = "duplicate candidate"
)

type IngestOptions struct {
	AutoImportThreshold     int
	MinExtractionConfidence int
	// StrictResumeParsing fails the import when the oracle cannot parse the resume instead of
	// falling back to filename-derived data.
	StrictResumeParsing bool
	// DeferClassification stores needs_ai messages as PENDING and classifies them on the queue.
	DeferClassification bool
}

// Extractor converts attachment bytes to text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename, mimeType string) (*extractor.Extraction, error)
}

type ingestUsecase struct {
	messages   repository.MessageRepository
	candidates repository.CandidateRepository
	triage     *triage.Engine
	oracle     ai.Oracle
	extractor  Extractor
	queue      Enqueuer
	events     events.Publisher
	opts       IngestOptions
	logger     *zap.Logger
}

func NewIngestUsecase(
	messages repository.MessageRepository,
	candidates repository.CandidateRepository,
	engine *triage.Engine,
	oracle ai.Oracle,
	ext Extractor,
	q Enqueuer,
	pub events.Publisher,
	opts IngestOptions,
	log *zap.Logger,
) IngestUsecase {
	if opts.AutoImportThreshold <= 0 {
		opts.AutoImportThreshold = defaultAutoImportThreshold
	}
	if opts.MinExtractionConfidence <= 0 {
		opts.MinExtractionConfidence = defaultMinExtractionConfidence
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ingestUsecase{
		messages:   messages,
		candidates: candidates,
		triage:     engine,
		oracle:     oracle,
		extractor:  ext,
		queue:      q,
		events:     pub,
		opts:       opts,
		logger:     log.Named("ingest"),
	}
}

func (u *ingestUsecase) Ingest(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, providerMessageID string) (*IngestResult, error) {
	log := u.logger.With(zap.String("connection_id", conn.ID), zap.String("message_id", providerMessageID))

	// Dedup before any other work makes replays of provider history safe.
	existing, err := u.messages.FindByProviderID(conn.ID, providerMessageID)
	if err != nil {
		return nil, fmt.Errorf("lookup message %s: %w", providerMessageID, err)
	}
	if existing != nil {
		log.Debug("message already processed", zap.String("status", string(existing.Status)))
		metrics.RecordMessage(string(OutcomeDuplicate))
		return &IngestResult{Outcome: OutcomeDuplicate, RecordID: existing.ID}, nil
	}

	email, err := sess.GetMessage(ctx, providerMessageID)
	if err != nil {
		rec := newRecord(conn, &domain.InboundEmail{ID: providerMessageID})
		return u.createFailed(rec, fmt.Errorf("fetch message: %w", err))
	}

	verdict := u.triage.Triage(triageInput(conn, email))
	metrics.RecordTriage(string(verdict.Action))

	rec := newRecord(conn, email)
	rec.TriageAction = string(verdict.Action)
	rec.TriageReason = verdict.Reason

	switch verdict.Action {
	case triage.ActionSkip:
		if err := rec.Transition(domain.StatusSkipped); err != nil {
			return nil, err
		}
		rec.SkipReason = verdict.Reason
		now := time.Now()
		rec.ProcessedAt = &now
		created, err := u.messages.CreateOnce(rec)
		if err != nil {
			return nil, fmt.Errorf("store skipped message: %w", err)
		}
		if !created {
			return u.duplicate(rec)
		}
		log.Debug("message skipped by triage", zap.String("reason", verdict.Reason))
		metrics.RecordMessage(string(OutcomeSkipped))
		return &IngestResult{Outcome: OutcomeSkipped, RecordID: rec.ID, Reason: verdict.Reason}, nil

	case triage.ActionAutoClassify:
		rec.ApplyVerdict(domain.Verdict{
			IsJobApplication: true,
			Confidence:       verdict.Confidence,
			DetectedPosition: verdict.DetectedPosition,
			CandidateName:    email.FromName,
			CandidateEmail:   email.FromAddress,
			Reasoning:        "rule: " + verdict.Reason,
			Source:           "rule",
		})

	default:
		if u.opts.DeferClassification && u.queue != nil {
			return u.deferClassification(ctx, rec)
		}
		v, err := u.classify(ctx, email)
		if err != nil {
			return u.createFailed(rec, err)
		}
		rec.ApplyVerdict(*v)
	}

	created, err := u.messages.CreateOnce(rec)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if !created {
		return u.duplicate(rec)
	}

	res, err := u.decide(ctx, conn, sess, rec, email)
	if res == nil && isCancellation(err) {
		// Drop the unfinished record so the message is ingested afresh next time.
		if derr := u.messages.Delete(rec.ID); derr != nil {
			log.Error("failed to discard interrupted message", zap.Error(derr))
		}
	}
	return res, err
}

func (u *ingestUsecase) ClassifyDeferred(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord, final bool) (*IngestResult, error) {
	if rec.Status != domain.StatusPending {
		return &IngestResult{Outcome: OutcomeDuplicate, RecordID: rec.ID, Reason: "already " + string(rec.Status)}, nil
	}

	email, err := sess.GetMessage(ctx, rec.ProviderMessageID)
	if err == nil {
		var v *domain.Verdict
		if v, err = u.classify(ctx, email); err == nil {
			rec.ApplyVerdict(*v)
			if err := u.messages.Update(rec); err != nil {
				return nil, err
			}
			return u.decide(ctx, conn, sess, rec, email)
		}
	}

	if final {
		return u.fail(rec, err)
	}
	return nil, err
}

func (u *ingestUsecase) Reprocess(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord) (*IngestResult, error) {
	if rec.Status.Terminal() {
		return &IngestResult{Outcome: OutcomeDuplicate, RecordID: rec.ID, Reason: "already " + string(rec.Status)}, nil
	}
	if rec.Status == domain.StatusProcessing {
		// interrupted import
		rec.Status = domain.StatusFailed
	}
	if rec.Status == domain.StatusFailed {
		if err := rec.Transition(domain.StatusPending); err != nil {
			return nil, err
		}
		rec.ErrorMessage = ""
	}

	email, err := sess.GetMessage(ctx, rec.ProviderMessageID)
	if err != nil {
		return u.fail(rec, fmt.Errorf("fetch message: %w", err))
	}

	if !hasVerdict(rec) {
		v, err := u.classify(ctx, email)
		if err != nil {
			return u.fail(rec, err)
		}
		rec.ApplyVerdict(*v)
	}
	if err := u.messages.Update(rec); err != nil {
		return nil, err
	}
	return u.decide(ctx, conn, sess, rec, email)
}

// decide applies the auto-import gate to a classified PENDING record.
func (u *ingestUsecase) decide(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord, email *domain.InboundEmail) (*IngestResult, error) {
	if reason, ok := u.gate(conn, rec); !ok {
		if err := rec.Transition(domain.StatusSkipped); err != nil {
			return nil, err
		}
		rec.SkipReason = reason
		now := time.Now()
		rec.ProcessedAt = &now
		if err := u.messages.Update(rec); err != nil {
			return nil, err
		}
		metrics.RecordMessage(string(OutcomeSkipped))
		return &IngestResult{Outcome: OutcomeSkipped, RecordID: rec.ID, Reason: reason}, nil
	}
	return u.importMessage(ctx, conn, sess, rec, email)
}

func (u *ingestUsecase) gate(conn *domain.MailboxConnection, rec *domain.InboundMessageRecord) (string, bool) {
	switch {
	case !rec.IsJobApplication:
		return "not a job application", false
	case rec.ClassificationConfidence < u.opts.AutoImportThreshold:
		return fmt.Sprintf("confidence %d below threshold %d", rec.ClassificationConfidence, u.opts.AutoImportThreshold), false
	case !conn.AutoImport:
		return "auto-import disabled for connection", false
	}
	return "", true
}

func (u *ingestUsecase) importMessage(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord, email *domain.InboundEmail) (*IngestResult, error) {
	if err := rec.Transition(domain.StatusProcessing); err != nil {
		return nil, err
	}
	rec.Attempts++
	if err := u.messages.Update(rec); err != nil {
		return nil, err
	}

	candidate, err := u.buildCandidate(ctx, conn, sess, rec, email)
	if err != nil {
		return u.fail(rec, err)
	}

	existing, err := u.candidates.FindByEmail(conn.TenantID, candidate.Email)
	if err != nil {
		return u.fail(rec, fmt.Errorf("candidate lookup: %w", err))
	}
	if existing != nil {
		return u.duplicateCandidate(rec, existing.ID)
	}

	created, err := u.candidates.CreateOnce(candidate)
	if err != nil {
		return u.fail(rec, fmt.Errorf("create candidate: %w", err))
	}
	if !created {
		// Lost a race with another sync of the same tenant.
		existing, err := u.candidates.FindByEmail(conn.TenantID, candidate.Email)
		if err != nil {
			u.logger.Warn("candidate lookup after concurrent create failed",
				zap.String("message_id", rec.ProviderMessageID),
				zap.String("email", candidate.Email),
				zap.Error(err),
			)
		}
		existingID := ""
		if existing != nil {
			existingID = existing.ID
		}
		return u.duplicateCandidate(rec, existingID)
	}

	if err := rec.Transition(domain.StatusImported); err != nil {
		return nil, err
	}
	now := time.Now()
	rec.ProcessedAt = &now
	rec.CandidateID = &candidate.ID
	rec.ErrorMessage = ""
	if err := u.messages.Update(rec); err != nil {
		return nil, err
	}

	u.logger.Info("candidate imported",
		zap.String("tenant_id", conn.TenantID),
		zap.String("candidate_id", candidate.ID),
		zap.String("message_id", rec.ProviderMessageID),
		zap.String("parse_source", string(candidate.ParseSource)),
	)
	metrics.RecordMessage(string(OutcomeImported))

	if u.events != nil {
		u.events.Publish(events.Event{
			Type:        events.CandidateCreated,
			TenantID:    conn.TenantID,
			CandidateID: candidate.ID,
			MessageID:   rec.ID,
		})
	}
	if u.queue != nil {
		if _, err := u.queue.Enqueue(ctx, queue.KindScoreCandidate, ScorePayload{CandidateID: candidate.ID}); err != nil {
			u.logger.Warn("failed to enqueue scoring", zap.String("candidate_id", candidate.ID), zap.Error(err))
		}
	}

	return &IngestResult{Outcome: OutcomeImported, RecordID: rec.ID, CandidateID: candidate.ID}, nil
}

func (u *ingestUsecase) buildCandidate(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord, email *domain.InboundEmail) (*domain.CandidateRecord, error) {
	candidate := &domain.CandidateRecord{
		TenantID:         conn.TenantID,
		Email:            domain.NormalizeEmail(firstNonEmpty(rec.CandidateEmail, email.FromAddress)),
		Name:             firstNonEmpty(rec.CandidateName, senderName(email)),
		ParseSource:      domain.ParseSourceSender,
		DetectedPosition: rec.DetectedPosition,
		SourceMessageID:  rec.ID,
	}

	cv, ok := triage.FindCVAttachment(email.Attachments)
	if !ok {
		if candidate.Email == "" {
			return nil, errors.New("no candidate email address")
		}
		return candidate, nil
	}

	data, err := sess.GetAttachment(ctx, email.ID, cv.ID)
	if err != nil {
		return nil, fmt.Errorf("download attachment %s: %w", cv.Filename, err)
	}
	extraction, err := u.extractor.Extract(ctx, data, cv.Filename, cv.MimeType)
	if err != nil {
		return nil, fmt.Errorf("text extraction failed for %s: %w", cv.Filename, err)
	}
	if extraction.Confidence < u.opts.MinExtractionConfidence {
		return nil, fmt.Errorf("%w: %s scored %d, minimum %d",
			domain.ErrLowExtractionConfidence, cv.Filename, extraction.Confidence, u.opts.MinExtractionConfidence)
	}

	candidate.ResumeText = extraction.Text
	candidate.ResumeFilename = cv.Filename

	parsed, err := u.oracle.ParseResume(ctx, extraction.Text, cv.Filename)
	if err != nil {
		if u.opts.StrictResumeParsing {
			return nil, fmt.Errorf("resume parsing failed: %w", err)
		}
		u.logger.Warn("resume parsing failed, using filename fallback",
			zap.String("message_id", rec.ProviderMessageID),
			zap.String("filename", cv.Filename),
			zap.Error(err),
		)
		if name := nameFromFilename(cv.Filename); name != "" {
			candidate.Name = name
		}
		candidate.ParseSource = domain.ParseSourceFilename
	} else {
		candidate.ParseSource = domain.ParseSourceAI
		if parsed.Name != "" {
			candidate.Name = parsed.Name
		}
		if parsed.Email != "" {
			candidate.Email = domain.NormalizeEmail(parsed.Email)
		}
		candidate.Phone = parsed.Phone
		candidate.Skills = parsed.Skills
		candidate.ExperienceYears = parsed.ExperienceYears
		candidate.Education = parsed.Education
		candidate.Summary = parsed.Summary
	}

	if candidate.Email == "" {
		return nil, errors.New("no candidate email address")
	}
	return candidate, nil
}

func (u *ingestUsecase) classify(ctx context.Context, email *domain.InboundEmail) (*domain.Verdict, error) {
	names := make([]string, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		names = append(names, a.Filename)
	}

	c, err := u.oracle.Classify(ctx, ai.EmailInput{
		Subject:     email.Subject,
		Body:        plainBody(email),
		FromAddress: email.FromAddress,
		FromName:    email.FromName,
		Attachments: names,
	})
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	return &domain.Verdict{
		IsJobApplication: c.IsJobApplication,
		Confidence:       c.Confidence,
		DetectedPosition: c.DetectedPosition,
		CandidateName:    c.CandidateName,
		CandidateEmail:   c.CandidateEmail,
		Reasoning:        c.Reasoning,
		Source:           "oracle",
	}, nil
}

func (u *ingestUsecase) deferClassification(ctx context.Context, rec *domain.InboundMessageRecord) (*IngestResult, error) {
	created, err := u.messages.CreateOnce(rec)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	if !created {
		return u.duplicate(rec)
	}
	if _, err := u.queue.Enqueue(ctx, queue.KindClassifyEmail, MessagePayload{MessageID: rec.ID}); err != nil {
		return u.fail(rec, fmt.Errorf("enqueue classification: %w", err))
	}
	metrics.RecordMessage(string(OutcomeDeferred))
	return &IngestResult{Outcome: OutcomeDeferred, RecordID: rec.ID}, nil
}

func (u *ingestUsecase) duplicate(rec *domain.InboundMessageRecord) (*IngestResult, error) {
	u.logger.Debug("message stored concurrently, skipping", zap.String("message_id", rec.ProviderMessageID))
	metrics.RecordMessage(string(OutcomeDuplicate))
	return &IngestResult{Outcome: OutcomeDuplicate}, nil
}

func (u *ingestUsecase) duplicateCandidate(rec *domain.InboundMessageRecord, existingID string) (*IngestResult, error) {
	u.logger.Info("candidate already exists, not importing",
		zap.String("message_id", rec.ProviderMessageID),
		zap.String("candidate_id", existingID),
	)
	if err := rec.Transition(domain.StatusSkipped); err != nil {
		return nil, err
	}
	rec.SkipReason = reasonDuplicateCandidate
	if existingID != "" {
		rec.CandidateID = &existingID
	}
	now := time.Now()
	rec.ProcessedAt = &now
	if err := u.messages.Update(rec); err != nil {
		return nil, err
	}
	metrics.RecordMessage(string(OutcomeSkipped))
	return &IngestResult{Outcome: OutcomeSkipped, RecordID: rec.ID, CandidateID: existingID, Reason: reasonDuplicateCandidate}, nil
}

// fail moves a stored record to FAILED and returns the cause as a message-level error.
// A cancelled context is not a message failure and leaves the record untouched.
func (u *ingestUsecase) fail(rec *domain.InboundMessageRecord, cause error) (*IngestResult, error) {
	if isCancellation(cause) {
		u.logger.Info("message interrupted", zap.String("message_id", rec.ProviderMessageID), zap.Error(cause))
		return nil, cause
	}
	if err := rec.Transition(domain.StatusFailed); err != nil {
		return nil, errors.Join(cause, err)
	}
	rec.ErrorMessage = cause.Error()
	if err := u.messages.Update(rec); err != nil {
		return nil, errors.Join(cause, err)
	}
	u.logger.Warn("message failed", zap.String("message_id", rec.ProviderMessageID), zap.Error(cause))
	metrics.RecordMessage(string(OutcomeFailed))
	return &IngestResult{Outcome: OutcomeFailed, RecordID: rec.ID, Reason: cause.Error()}, cause
}

// createFailed stores a new record directly as FAILED.
func (u *ingestUsecase) createFailed(rec *domain.InboundMessageRecord, cause error) (*IngestResult, error) {
	if isCancellation(cause) {
		u.logger.Info("message interrupted", zap.String("message_id", rec.ProviderMessageID), zap.Error(cause))
		return nil, cause
	}
	if err := rec.Transition(domain.StatusFailed); err != nil {
		return nil, errors.Join(cause, err)
	}
	rec.ErrorMessage = cause.Error()
	created, err := u.messages.CreateOnce(rec)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	if !created {
		return u.duplicate(rec)
	}
	u.logger.Warn("message failed", zap.String("message_id", rec.ProviderMessageID), zap.Error(cause))
	metrics.RecordMessage(string(OutcomeFailed))
	return &IngestResult{Outcome: OutcomeFailed, RecordID: rec.ID, Reason: cause.Error()}, cause
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

func newRecord(conn *domain.MailboxConnection, email *domain.InboundEmail) *domain.InboundMessageRecord {
	return &domain.InboundMessageRecord{
		TenantID:          conn.TenantID,
		ConnectionID:      conn.ID,
		ProviderMessageID: email.ID,
		ThreadID:          email.ThreadID,
		FromAddress:       email.FromAddress,
		FromName:          email.FromName,
		Subject:           email.Subject,
		ReceivedAt:        email.ReceivedAt,
		Status:            domain.StatusPending,
	}
}

func hasVerdict(rec *domain.InboundMessageRecord) bool {
	return rec.IsJobApplication || rec.ClassificationConfidence > 0 || rec.Reasoning != ""
}

func triageInput(conn *domain.MailboxConnection, email *domain.InboundEmail) triage.Input {
	return triage.Input{
		Subject:         email.Subject,
		Body:            plainBody(email),
		SenderEmail:     email.FromAddress,
		SenderName:      email.FromName,
		CompanyDomain:   conn.CompanyDomain,
		ListUnsubscribe: email.Header("List-Unsubscribe"),
		AutoSubmitted:   email.Header("Auto-Submitted"),
		Attachments:     email.Attachments,
	}
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

func plainBody(email *domain.InboundEmail) string {
	if strings.TrimSpace(email.TextBody) != "" {
		return email.TextBody
	}
	text := htmlTag.ReplaceAllString(email.HTMLBody, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", `"`).Replace(text)
	return strings.Join(strings.Fields(text), " ")
}

func senderName(email *domain.InboundEmail) string {
	if name := strings.TrimSpace(email.FromName); name != "" {
		return name
	}
	local := email.FromAddress
	if i := strings.Index(local, "@"); i > 0 {
		local = local[:i]
	}
	return titleWords(strings.FieldsFunc(local, isNameSeparator))
}

var filenameNoise = map[string]bool{
	"cv": true, "resume": true, "résumé": true, "curriculum": true, "vitae": true,
	"final": true, "updated": true, "latest": true, "new": true, "copy": true,
}

// nameFromFilename derives a display name from names like "resume_john_doe.pdf".
func nameFromFilename(filename string) string {
	base := filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	var words []string
	for _, w := range strings.FieldsFunc(base, isNameSeparator) {
		lw := strings.ToLower(w)
		if filenameNoise[lw] || strings.IndexFunc(lw, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0 {
			continue
		}
		words = append(words, lw)
	}
	return titleWords(words)
}

func isNameSeparator(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == ' ' || r == '+'
}

func titleWords(words []string) string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		r := []rune(strings.ToLower(w))
		out = append(out, strings.ToUpper(string(r[0]))+string(r[1:]))
	}
	return strings.Join(out, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
