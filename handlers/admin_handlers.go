package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"qbank-server/db"
	"qbank-server/ingestion"
)

// StoreAdmin is the part of the router the admin endpoints drive.
type StoreAdmin interface {
	Status() []db.StoreStatus
	Reset(ctx context.Context)
}

// IngestBatchFile ingests a JSON or YAML batch dropped into the batch directory.
// POST /admin/ingest/files/:name
func IngestBatchFile(p *ingestion.Pipeline, batchDir string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		res, err := p.IngestFile(c.Request.Context(), batchDir, name)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		logger.Info("admin batch ingested", "file", name, "by", c.GetString("user_email"), "count", res.Count)
		c.JSON(http.StatusCreated, res)
	}
}

// ListStores lists configured exam stores and their cached connection state.
// GET /admin/stores
func ListStores(r StoreAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stores": r.Status()})
	}
}

// ResetStores drops every cached store connection.
// POST /admin/stores/reset
func ResetStores(r StoreAdmin, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		r.Reset(c.Request.Context())
		logger.Info("store connections reset", "by", c.GetString("user_email"))
		c.JSON(http.StatusOK, gin.H{"stores": r.Status()})
	}
}
