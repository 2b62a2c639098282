package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/queue"
	"talent-inbox/pkg/ai"
	"talent-inbox/pkg/events"
	"talent-inbox/pkg/fuzzy"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// minRoleMatch is the title similarity needed to attach a candidate to an open role.
const minRoleMatch = 0.6

// Registrar binds handlers to job kinds.
type Registrar interface {
	Register(kind string, h queue.Handler) error
}

// JobHandlers runs the queued stages of the pipeline: deferred classification,
// CV re-processing and candidate scoring.
type JobHandlers struct {
	connections repository.ConnectionRepository
	messages    repository.MessageRepository
	candidates  repository.CandidateRepository
	scores      repository.ScoreRepository
	roles       repository.RoleRepository
	providers   Providers
	ingest      IngestUsecase
	oracle      ai.Oracle
	queue       Enqueuer
	events      events.Publisher
	logger      *zap.Logger
}

func NewJobHandlers(
	connections repository.ConnectionRepository,
	messages repository.MessageRepository,
	candidates repository.CandidateRepository,
	scores repository.ScoreRepository,
	roles repository.RoleRepository,
	providers Providers,
	ingest IngestUsecase,
	oracle ai.Oracle,
	q Enqueuer,
	pub events.Publisher,
	log *zap.Logger,
) *JobHandlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobHandlers{
		connections: connections,
		messages:    messages,
		candidates:  candidates,
		scores:      scores,
		roles:       roles,
		providers:   providers,
		ingest:      ingest,
		oracle:      oracle,
		queue:       q,
		events:      pub,
		logger:      log.Named("jobs"),
	}
}

func (h *JobHandlers) Register(r Registrar) error {
	for kind, handler := range map[string]queue.Handler{
		queue.KindClassifyEmail:  h.ClassifyEmail,
		queue.KindProcessCV:      h.ProcessCV,
		queue.KindScoreCandidate: h.ScoreCandidate,
	} {
		if err := r.Register(kind, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *JobHandlers) ClassifyEmail(ctx context.Context, job *queue.Job) error {
	var p MessagePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	final := job.Attempt >= job.MaxAttempts
	return h.withMessage(ctx, p.MessageID, func(conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord) error {
		_, err := h.ingest.ClassifyDeferred(ctx, conn, sess, rec, final)
		return err
	})
}

func (h *JobHandlers) ProcessCV(ctx context.Context, job *queue.Job) error {
	var p MessagePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return h.withMessage(ctx, p.MessageID, func(conn *domain.MailboxConnection, sess domain.MailSession, rec *domain.InboundMessageRecord) error {
		_, err := h.ingest.Reprocess(ctx, conn, sess, rec)
		if errors.Is(err, domain.ErrLowExtractionConfidence) {
			// Retrying cannot improve the extracted text.
			return nil
		}
		return err
	})
}

// EnqueueReprocess queues a FAILED or PENDING message for another import attempt.
func (h *JobHandlers) EnqueueReprocess(ctx context.Context, messageID string) (string, error) {
	rec, err := h.messages.FindByID(messageID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	if rec.Status.Terminal() {
		return "", fmt.Errorf("%w: message is %s", domain.ErrInvalidTransition, rec.Status)
	}
	return h.queue.Enqueue(ctx, queue.KindProcessCV, MessagePayload{MessageID: rec.ID}, queue.WithPriority(queue.PriorityHigh))
}

func (h *JobHandlers) ScoreCandidate(ctx context.Context, job *queue.Job) error {
	var p ScorePayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	_, err := h.Score(ctx, p.CandidateID, p.RoleID)
	return err
}

// Score scores a candidate against roleID, or against the role resolved from the
// candidate's detected position. Returns nil when no role applies.
func (h *JobHandlers) Score(ctx context.Context, candidateID, roleID string) (*domain.ScoreRecord, error) {
	candidate, err := h.candidates.FindByID(candidateID)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		return nil, fmt.Errorf("candidate %s: %w", candidateID, domain.ErrNotFound)
	}
	log := h.logger.With(zap.String("candidate_id", candidate.ID))

	role, err := h.resolveRole(candidate, roleID)
	if err != nil {
		return nil, err
	}
	if role == nil {
		log.Debug("no role to score against", zap.String("detected_position", candidate.DetectedPosition))
		return nil, nil
	}

	result, err := h.oracle.Score(ctx, &ai.ParsedResume{
		Name:            candidate.Name,
		Email:           candidate.Email,
		Phone:           candidate.Phone,
		Skills:          candidate.Skills,
		ExperienceYears: candidate.ExperienceYears,
		Education:       candidate.Education,
		Summary:         candidate.Summary,
	}, ai.RoleRequirements{Title: role.Title, Requirements: role.Requirements})
	if err != nil {
		return nil, fmt.Errorf("score candidate %s for role %s: %w", candidate.ID, role.ID, err)
	}

	score := &domain.ScoreRecord{
		TenantID:        candidate.TenantID,
		CandidateID:     candidate.ID,
		RoleID:          role.ID,
		OverallScore:    result.OverallScore,
		SkillsScore:     result.SkillsScore,
		ExperienceScore: result.ExperienceScore,
		EducationScore:  result.EducationScore,
		Recommendation:  string(result.Recommendation),
		Explanation:     result.Explanation,
		ScoredAt:        time.Now(),
	}
	if err := h.scores.Upsert(score); err != nil {
		return nil, fmt.Errorf("save score: %w", err)
	}

	log.Info("candidate scored", zap.String("role_id", role.ID), zap.Int("score", score.OverallScore))
	if h.events != nil {
		overall := score.OverallScore
		h.events.Publish(events.Event{
			Type:        events.ScoreUpserted,
			TenantID:    score.TenantID,
			CandidateID: score.CandidateID,
			RoleID:      score.RoleID,
			Score:       &overall,
		})
	}
	return score, nil
}

// RescoreRole queues scoring for every candidate attached to a role, e.g. after its requirements changed.
func (h *JobHandlers) RescoreRole(ctx context.Context, roleID string) (int, error) {
	role, err := h.roles.FindByID(roleID)
	if err != nil {
		return 0, err
	}
	if role == nil {
		return 0, fmt.Errorf("role %s: %w", roleID, domain.ErrNotFound)
	}

	candidates, err := h.candidates.ListByTargetRole(role.ID)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, c := range candidates {
		if _, err := h.queue.Enqueue(ctx, queue.KindScoreCandidate,
			ScorePayload{CandidateID: c.ID, RoleID: role.ID},
			queue.WithPriority(queue.PriorityLow),
		); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}

func (h *JobHandlers) resolveRole(candidate *domain.CandidateRecord, roleID string) (*domain.Role, error) {
	if roleID == "" && candidate.TargetRoleID != nil {
		roleID = *candidate.TargetRoleID
	}
	if roleID != "" {
		role, err := h.roles.FindByID(roleID)
		if err != nil {
			return nil, err
		}
		if role == nil || role.TenantID != candidate.TenantID {
			return nil, fmt.Errorf("role %s: %w", roleID, domain.ErrNotFound)
		}
		return role, nil
	}

	if candidate.DetectedPosition == "" {
		return nil, nil
	}
	roles, err := h.roles.ListOpenByTenant(candidate.TenantID)
	if err != nil {
		return nil, err
	}
	titles := make([]string, len(roles))
	for i, r := range roles {
		titles[i] = r.Title
	}
	idx, similarity := fuzzy.BestMatch(candidate.DetectedPosition, titles, minRoleMatch)
	if idx < 0 {
		return nil, nil
	}

	role := roles[idx]
	candidate.TargetRoleID = &role.ID
	if err := h.candidates.Update(candidate); err != nil {
		return nil, err
	}
	h.logger.Debug("candidate matched to role",
		zap.String("candidate_id", candidate.ID),
		zap.String("role_id", role.ID),
		zap.Float64("similarity", similarity),
	)
	return role, nil
}

// withMessage loads a message record with its connection and an open mailbox session.
func (h *JobHandlers) withMessage(ctx context.Context, messageID string, fn func(*domain.MailboxConnection, domain.MailSession, *domain.InboundMessageRecord) error) error {
	rec, err := h.messages.FindByID(messageID)
	if err != nil {
		return err
	}
	if rec == nil {
		h.logger.Warn("queued message no longer exists", zap.String("message_id", messageID))
		return nil
	}
	conn, err := h.connections.FindByID(rec.ConnectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("connection %s: %w", rec.ConnectionID, domain.ErrNotFound)
	}

	sess, err := h.providers.Open(ctx, conn, func(token *oauth2.Token) error {
		return h.connections.UpdateTokens(conn.ID, token)
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	return fn(conn, sess, rec)
}
