// Package api implements the Job Control API (spec.md §4.11, §6): a thin
// Fiber boundary exposing read-only projections over the core's state
// plus the upload and rule-config administrative mutations. It holds no
// business logic of its own and translates every fault into the stable
// error envelope (internal/apierr), the way the teacher's handlers
// translate failures into its fiber.Map error bodies.
package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/silencealoe/data-clean-tool/internal/jobs"
	"github.com/silencealoe/data-clean-tool/internal/obs/logger"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
	"github.com/silencealoe/data-clean-tool/internal/uploadprogress"
)

// App bundles every core component the API surfaces or drives.
type App struct {
	Producer       *jobs.Producer
	Persister      *persist.Persister
	Reader         *persist.Reader
	Queue          *queue.Queue
	Store          *store.Store
	Tracker        *progress.Tracker
	UploadTracker  *uploadprogress.Tracker
	UploadDir      string
	MaxUploadBytes int64

	log *logger.Logger
}

// New builds an App from its dependencies.
func New(producer *jobs.Producer, persister *persist.Persister, reader *persist.Reader, q *queue.Queue, s *store.Store, tracker *progress.Tracker, uploadTracker *uploadprogress.Tracker, uploadDir string, maxUploadBytes int64) *App {
	return &App{
		Producer:       producer,
		Persister:      persister,
		Reader:         reader,
		Queue:          q,
		Store:          s,
		Tracker:        tracker,
		UploadTracker:  uploadTracker,
		UploadDir:      uploadDir,
		MaxUploadBytes: maxUploadBytes,
		log:            logger.With("api"),
	}
}

// Router builds the Fiber app and registers every route (spec.md §6).
func (a *App) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:    int(a.MaxUploadBytes),
		ErrorHandler: a.errorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	dc := app.Group("/api/data-cleaning")
	dc.Post("/upload", a.handleUpload)
	dc.Get("/status/:jobId", a.handleStatus)
	dc.Get("/check-status/:taskId", a.handleCheckStatus)
	dc.Get("/progress/:jobId", a.handleProgress)
	dc.Get("/metrics/:jobId", a.handleMetrics)
	dc.Get("/report/:jobId", a.handleReport)
	dc.Get("/files", a.handleListFiles)
	dc.Get("/files/:fileId", a.handleFileDetail)
	dc.Get("/data/clean/:jobId", a.handleDataClean)
	dc.Get("/data/exceptions/:jobId", a.handleDataExceptions)
	dc.Get("/download/clean/:jobId", a.handleDownloadClean)
	dc.Get("/download/exceptions/:jobId", a.handleDownloadExceptions)
	dc.Delete("/cancel/:jobId", a.handleCancel)

	rc := app.Group("/api/rule-config")
	rc.Get("/current", a.handleRuleConfigCurrent)
	rc.Put("/update", a.handleRuleConfigUpdate)
	rc.Post("/reload", a.handleRuleConfigReload)
	rc.Get("/history", a.handleRuleConfigHistory)
	rc.Get("/stats", a.handleRuleConfigStats)

	up := app.Group("/api/upload-progress")
	up.Get("/active/all", a.handleUploadProgressActiveAll)
	up.Get("/stream/:uploadId", a.handleUploadProgressStream)
	up.Get("/:uploadId", a.handleUploadProgressGet)

	return app
}

// errorHandler renders every returned error through apierr's stable
// envelope, the single place the transport boundary touches error shape.
func (a *App) errorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}
