package delivery

import (
	"context"
	"errors"
	"net/http"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/ingestion/usecase"
	"talent-inbox/internal/queue"

	"github.com/gin-gonic/gin"
)

// JobTrigger enqueues follow-up pipeline work on demand.
type JobTrigger interface {
	EnqueueReprocess(ctx context.Context, messageID string) (string, error)
	RescoreRole(ctx context.Context, roleID string) (int, error)
}

type QueueStats interface {
	Stats() map[string]queue.Stats
}

type IngestionHandler struct {
	syncUsecase usecase.SyncUsecase
	jobs        JobTrigger
	queue       QueueStats
	messages    repository.MessageRepository
	scores      repository.ScoreRepository
}

func NewIngestionHandler(syncUsecase usecase.SyncUsecase, jobs JobTrigger, q QueueStats, messages repository.MessageRepository, scores repository.ScoreRepository) *IngestionHandler {
	return &IngestionHandler{
		syncUsecase: syncUsecase,
		jobs:        jobs,
		queue:       q,
		messages:    messages,
		scores:      scores,
	}
}

// SyncConnection runs one sync and returns its SyncResult. Message-level errors are part of
// the result; only connection-level failures change the status code.
func (h *IngestionHandler) SyncConnection(c *gin.Context) {
	result, err := h.syncUsecase.Sync(c.Request.Context(), c.Param("id"))
	if err != nil {
		if result != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *IngestionHandler) SyncTenant(c *gin.Context) {
	results, err := h.syncUsecase.SyncTenant(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *IngestionHandler) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": h.queue.Stats()})
}

func (h *IngestionHandler) MessageStats(c *gin.Context) {
	counts, err := h.messages.CountByStatus(c.Param("tenantId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *IngestionHandler) ReprocessMessage(c *gin.Context) {
	jobID, err := h.jobs.EnqueueReprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (h *IngestionHandler) RescoreRole(c *gin.Context) {
	queued, err := h.jobs.RescoreRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"queued": queued})
}

func (h *IngestionHandler) CandidateScores(c *gin.Context) {
	scores, err := h.scores.FindByCandidate(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scores": scores})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConnectionInactive), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, queue.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
