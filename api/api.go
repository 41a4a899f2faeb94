package api

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/ajshedivy/kubeflow-ppc64le-components/logger"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/core"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/loaders"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/tabular"
	"github.com/ajshedivy/kubeflow-ppc64le-components/pkg/writers"
	"github.com/ajshedivy/kubeflow-ppc64le-components/version"
)

const serviceName = "Ingest API"

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Port    string
	Prefork bool

	// MaxResponseRows caps the rows returned by /v1/load. Zero means no cap.
	MaxResponseRows int

	// Loaders serves /v1/load. loaders.DefaultFactory is used when nil.
	Loaders *loaders.Factory
}

// Server holds the Fiber app instance
type Server struct {
	app     *fiber.App
	opts    ServerOptions
	loaders *loaders.Factory
}

// LoadRequest is the body of POST /v1/load.
type LoadRequest struct {
	Path    string       `json:"path"`
	Type    string       `json:"type"`
	Options core.Options `json:"options"`
	MaxRows int          `json:"max_rows"`
	// Limit caps the rows in the response without changing num_rows.
	Limit int `json:"limit"`
}

// Column describes one column of a loaded dataset.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// LoadResponse is the body returned by POST /v1/load.
type LoadResponse struct {
	Path       string          `json:"path"`
	Type       string          `json:"type"`
	NumRows    int64           `json:"num_rows"`
	NumColumns int64           `json:"num_columns"`
	Schema     []Column        `json:"schema"`
	Rows       json.RawMessage `json:"rows"`
	Truncated  bool            `json:"truncated"`
}

// NewServer initializes a new Fiber instance with the ingest routes.
func NewServer(opts ServerOptions) *Server {
	if opts.Port == "" {
		opts.Port = "3000"
	}
	factory := opts.Loaders
	if factory == nil {
		factory = loaders.DefaultFactory
	}

	app := fiber.New(fiber.Config{
		IdleTimeout:           10 * time.Second,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		Prefork:               opts.Prefork,
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: os.Stderr}))

	s := &Server{app: app, opts: opts, loaders: factory}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": serviceName,
			"version": version.GetVersion(),
			"build":   version.GetBuildDate(),
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	v1 := app.Group("/v1")
	v1.Get("/formats", s.handleFormats)
	v1.Post("/load", s.handleLoad)

	return s
}

// GetApp returns the underlying Fiber app.
func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) handleFormats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"formats": s.loaders.Formats()})
}

func errorResponse(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleLoad(c *fiber.Ctx) error {
	var req LoadRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err)
	}
	if req.Path == "" || req.Type == "" {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("path and type are required"))
	}
	if req.Limit < 0 {
		return errorResponse(c, fiber.StatusBadRequest, errors.New("limit must not be negative"))
	}

	rec, err := s.loaders.Process(c.UserContext(), req.Path, req.Type, req.Options, req.MaxRows)
	if err != nil {
		status := fiber.StatusUnprocessableEntity
		if errors.Is(err, core.ErrUnsupportedFormat) {
			status = fiber.StatusBadRequest
		}
		logger.GetLogger().Warn("load request failed",
			zap.String("path", req.Path),
			zap.String("type", req.Type),
			zap.Error(err))
		return errorResponse(c, status, err)
	}
	defer rec.Release()

	limit := s.opts.MaxResponseRows
	if req.Limit > 0 && (limit == 0 || req.Limit < limit) {
		limit = req.Limit
	}
	page := rec
	if limit > 0 && int64(limit) < rec.NumRows() {
		page = tabular.Head(rec, limit)
		defer page.Release()
	}

	var rows bytes.Buffer
	if err := writers.DefaultFactory.WriteRecord(c.UserContext(), core.WriterConfig{Type: "json", Output: &rows}, page); err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, err)
	}

	schema := make([]Column, rec.NumCols())
	for i, field := range rec.Schema().Fields() {
		schema[i] = Column{Name: field.Name, Type: field.Type.String(), Nullable: field.Nullable}
	}

	return c.JSON(LoadResponse{
		Path:       req.Path,
		Type:       string(core.NormalizeFormat(req.Type)),
		NumRows:    rec.NumRows(),
		NumColumns: rec.NumCols(),
		Schema:     schema,
		Rows:       json.RawMessage(rows.Bytes()),
		Truncated:  page.NumRows() < rec.NumRows(),
	})
}

// Start runs the Fiber server until it fails or the process is interrupted,
// then shuts down gracefully.
func (s *Server) Start() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, 1)
	go func() {
		log.Info("ingest API is running", zap.String("port", s.opts.Port))
		errCh <- s.app.Listen(":" + s.opts.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("received shutdown signal, stopping server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return err
	}
	log.Info("server shutdown successfully")
	return nil
}

// Shutdown stops the server, waiting for active connections until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
