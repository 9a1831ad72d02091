package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docsage/docsage/pkg/answer"
	"github.com/docsage/docsage/pkg/domain"
)

const healthCheckTimeout = 5 * time.Second

// Asker answers questions; satisfied by the answer orchestrator.
type Asker interface {
	Ask(ctx context.Context, conversationID, question string, topK int) (*answer.Answer, error)
	AskStream(ctx context.Context, conversationID, question string, topK int, onDelta func(delta string) error) (*answer.Answer, error)
}

// HealthChecker is the probe every backing component exposes.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type ingestRequest struct {
	domain.SourceSpec
}

type askRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question" binding:"required"`
	TopK           *int   `json:"top_k"`
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.SourceType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_type is required"})
		return
	}
	jobID := s.jobs.Start(req.SourceSpec)
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": JobQueued})
}

func (s *Server) handleIngestStatus(c *gin.Context) {
	job := s.jobs.Get(c.Param("job_id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := s.asker.Ask(c.Request.Context(), req.ConversationID, req.Question, topKOf(req))
	if err != nil {
		s.writeAskError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAskStream writes newline-delimited JSON frames: {"delta_text": ...}
// per token, then a final {"conversation_id", "citations"} frame. Deltas flow
// through a size-1 channel so the producer never outruns a slow client by
// more than one frame.
func (s *Server) handleAskStream(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	deltas := make(chan string, 1)
	type outcome struct {
		result *answer.Answer
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := s.asker.AskStream(ctx, req.ConversationID, req.Question, topKOf(req),
			func(delta string) error {
				select {
				case deltas <- delta:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		close(deltas)
		done <- outcome{result: result, err: err}
	}()

	for delta := range deltas {
		s.writeFrame(c, gin.H{"delta_text": delta})
	}

	out := <-done
	if out.err != nil {
		s.log.Warn().Err(out.err).Msg("streamed ask failed")
		s.writeFrame(c, gin.H{"error": out.err.Error()})
		return
	}
	s.writeFrame(c, gin.H{
		"conversation_id": out.result.ConversationID,
		"citations":       out.result.Citations,
	})
}

func (s *Server) writeFrame(c *gin.Context, frame gin.H) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if _, err := c.Writer.Write(append(payload, '\n')); err != nil {
		return
	}
	c.Writer.Flush()
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	components := gin.H{}
	healthy := true
	for name, check := range s.health {
		if err := check.Health(ctx); err != nil {
			components[name] = gin.H{"status": "unhealthy", "error": err.Error()}
			healthy = false
			continue
		}
		components[name] = gin.H{"status": "healthy"}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": components})
}

// writeAskError maps the error taxonomy onto HTTP statuses. Model throttling
// surfaces as 503 with a retry hint so clients back off instead of hammering.
func (s *Server) writeAskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrConversationBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrNoCapacity):
		payload := gin.H{"error": "model temporarily unavailable, retry later"}
		if hint := domain.RetryAfterHint(err); hint > 0 {
			payload["retry_after_seconds"] = int(hint.Seconds())
		}
		c.JSON(http.StatusServiceUnavailable, payload)
	case errors.Is(err, domain.ErrContextTooLong), errors.Is(err, domain.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Msg("ask failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func topKOf(req askRequest) int {
	if req.TopK != nil {
		return *req.TopK
	}
	return -1
}
