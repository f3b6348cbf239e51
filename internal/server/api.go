package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"callsense/internal/gate"
	"callsense/internal/model"
	"callsense/internal/processing"
	"callsense/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// Processor is the caller-facing side of the orchestrator.
type Processor interface {
	Process(ctx context.Context, jobID string) (processing.Outcome, error)
	InFlight() (string, time.Time, bool)
}

// Jobs is the read side of the store used by the listing routes.
type Jobs interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
	GetAnalysis(ctx context.Context, jobID string) (model.Analysis, error)
	ListJobs(ctx context.Context, status model.Status, limit int) ([]model.Job, error)
}

// Sampler reports host resources for /health.
type Sampler interface {
	Sample(ctx context.Context) (gate.Snapshot, error)
}

// API serves the HTTP surface.
type API struct {
	proc    Processor
	jobs    Jobs
	sampler Sampler
	metrics *metrics
	logger  *logrus.Logger
	started time.Time

	// record is called after every process request; may be nil.
	record func(jobID string, out processing.Outcome, err error)
}

func newAPI(proc Processor, jobs Jobs, sampler Sampler, m *metrics, logger *logrus.Logger) *API {
	return &API{proc: proc, jobs: jobs, sampler: sampler, metrics: m, logger: logger, started: time.Now()}
}

// App builds the fiber application. metricsOn exposes /metrics.
func (a *API) App(metricsOn bool) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		a.logger.WithFields(logrus.Fields{
			"method":  c.Method(),
			"path":    c.Path(),
			"status":  c.Response().StatusCode(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Debug("http")
		return err
	})

	app.Get("/health", a.health)
	if metricsOn {
		app.Get("/metrics", func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
			a.metrics.write(c)
			return nil
		})
	}
	api := app.Group("/api")
	api.Get("/jobs", a.listJobs)
	api.Get("/jobs/:id", a.getJob)
	api.Post("/jobs/:id/process", a.process)
	return app
}

func (a *API) health(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":     "healthy",
		"uptime_sec": time.Since(a.started).Seconds(),
	}
	if holder, since, ok := a.proc.InFlight(); ok {
		resp["in_flight"] = holder
		resp["in_flight_since"] = since
	}
	if a.sampler != nil {
		snap, err := a.sampler.Sample(c.UserContext())
		if err != nil {
			resp["resources_error"] = err.Error()
		} else {
			resp["resources"] = snap
			if !snap.Healthy {
				resp["status"] = "degraded"
			}
		}
	}
	return c.JSON(resp)
}

func (a *API) process(c *fiber.Ctx) error {
	id := c.Params("id")
	out, err := a.proc.Process(c.UserContext(), id)
	a.metrics.observe(out, err)
	if a.record != nil {
		a.record(id, out, err)
	}
	if err != nil {
		kind := processing.KindOf(err)
		return c.Status(StatusFor(kind)).JSON(fiber.Map{"error": err.Error(), "kind": string(kind)})
	}
	return c.JSON(fiber.Map{"success": true, "analysis_id": out.AnalysisID, "source": out.Source})
}

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind processing.Kind) int {
	switch kind {
	case processing.KindBusy:
		return fiber.StatusTooManyRequests
	case processing.KindResourceExhausted:
		return fiber.StatusServiceUnavailable
	case processing.KindNotFound:
		return fiber.StatusNotFound
	case processing.KindAlreadyExists:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (a *API) listJobs(c *fiber.Ctx) error {
	status := model.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	jobs, err := a.jobs.ListJobs(c.UserContext(), status, limit)
	if err != nil {
		return err
	}
	out := make([]fiber.Map, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView(j))
	}
	return c.JSON(out)
}

func (a *API) getJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := a.jobs.GetJob(c.UserContext(), id)
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "job not found")
	}
	if err != nil {
		return err
	}
	resp := jobView(job)
	an, err := a.jobs.GetAnalysis(c.UserContext(), id)
	switch {
	case err == nil:
		resp["analysis"] = fiber.Map{
			"id":            an.ID,
			"product_names": an.ProductNames,
			"sentiment":     an.Sentiment,
			"category":      an.Category,
			"summary":       an.Summary,
			"detail":        an.Detail,
			"source":        an.Source,
			"updated_at":    an.UpdatedAt,
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return c.JSON(resp)
}

func jobView(j model.Job) fiber.Map {
	m := fiber.Map{
		"id":         j.ID,
		"file_path":  j.FilePath,
		"format":     j.Format,
		"status":     j.Status,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.Error != "" {
		m["error"] = j.Error
	}
	return m
}
