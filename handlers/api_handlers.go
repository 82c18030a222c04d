package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qbank-server/exam"
	"qbank-server/examtype"
	"qbank-server/ingestion"
	"qbank-server/stats"
)

// Healthz reports liveness. It never touches a store.
// GET /healthz
func Healthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// NormalizeExamType resolves free-form exam text to its canonical key.
// GET /api/v1/exam-types/normalize?q=
func NormalizeExamType() gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Query("q")
		key, ok := examtype.Normalize(q)
		c.JSON(http.StatusOK, gin.H{"input": q, "examType": key, "recognized": ok})
	}
}

// IngestQuestions stores one extraction batch atomically.
// POST /api/v1/questions/ingest
func IngestQuestions(p *ingestion.Pipeline, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ingestion.Request
		if !bindJSON(c, &req) {
			return
		}
		res, err := p.Ingest(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// SelectRandom draws questions per subject and type.
// POST /api/v1/selections/random
func SelectRandom(s *exam.Sampler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.RandomRequest
		if !bindJSON(c, &req) {
			return
		}
		sel, err := s.SelectRandom(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, sel)
	}
}

// SelectByDifficulty draws questions per subject, type and difficulty tier.
// POST /api/v1/selections/difficulty
func SelectByDifficulty(s *exam.Sampler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.DifficultyRequest
		if !bindJSON(c, &req) {
			return
		}
		sel, err := s.SelectByDifficulty(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, sel)
	}
}

// AssemblePaper selects unlocked questions and claims them.
// POST /api/v1/papers/assemble
func AssemblePaper(a *exam.Assembler, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.AssembleRequest
		if !bindJSON(c, &req) {
			return
		}
		paper, err := a.Assemble(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	}
}

// GetLockCount reports the lock state of a subject/topic scope.
// GET /api/v1/locks?examType=&subjectId=&topicName=
func GetLockCount(l *exam.Locker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.ScopeRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
			return
		}
		lc, err := l.Count(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, lc)
	}
}

// UpdateLocks locks or unlocks every question in a subject/topic scope.
// PUT /api/v1/locks
func UpdateLocks(l *exam.Locker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.ScopeRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := l.UpdateScope(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// LockQuestions locks an explicit id set, typically the ids of a selection.
// POST /api/v1/locks/questions
func LockQuestions(l *exam.Locker, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exam.LockSetRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := l.LockSet(c.Request.Context(), req)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// GetStats returns the dashboard statistics of one exam.
// GET /api/v1/stats?examType=
func GetStats(a *stats.Aggregator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := a.Stats(c.Request.Context(), c.Query("examType"))
		if err != nil {
			respondError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}
