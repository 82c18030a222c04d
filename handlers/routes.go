package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"qbank-server/exam"
	"qbank-server/ingestion"
	"qbank-server/stats"
)

// Deps are the services the HTTP surface plumbs through to.
type Deps struct {
	Pipeline  *ingestion.Pipeline
	Sampler   *exam.Sampler
	Locker    *exam.Locker
	Assembler *exam.Assembler
	Stats     *stats.Aggregator
	Stores    StoreAdmin
	BatchDir  string
	Logger    *slog.Logger
}

// Register mounts every route. auth guards /api/v1 and /admin; admin guards /admin only.
func Register(router *gin.Engine, d Deps, auth, admin []gin.HandlerFunc) {
	router.GET("/healthz", Healthz())

	apiV1 := router.Group("/api/v1")
	apiV1.Use(auth...)
	{
		apiV1.GET("/exam-types/normalize", NormalizeExamType())
		apiV1.POST("/questions/ingest", IngestQuestions(d.Pipeline, d.Logger))
		apiV1.POST("/selections/random", SelectRandom(d.Sampler, d.Logger))
		apiV1.POST("/selections/difficulty", SelectByDifficulty(d.Sampler, d.Logger))
		apiV1.POST("/papers/assemble", AssemblePaper(d.Assembler, d.Logger))
		apiV1.GET("/locks", GetLockCount(d.Locker, d.Logger))
		apiV1.PUT("/locks", UpdateLocks(d.Locker, d.Logger))
		apiV1.POST("/locks/questions", LockQuestions(d.Locker, d.Logger))
		apiV1.GET("/stats", GetStats(d.Stats, d.Logger))
	}

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth...)
	adminGroup.Use(admin...)
	{
		adminGroup.POST("/ingest/files/:name", IngestBatchFile(d.Pipeline, d.BatchDir, d.Logger))
		adminGroup.GET("/stores", ListStores(d.Stores))
		adminGroup.POST("/stores/reset", ResetStores(d.Stores, d.Logger))
	}
}
