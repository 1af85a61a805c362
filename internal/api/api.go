package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cognicore/sheetclass/pkg/sheetclass/internalerr"
	"github.com/cognicore/sheetclass/pkg/sheetclass/metrics"
	"github.com/cognicore/sheetclass/pkg/sheetclass/protocol"
	"github.com/cognicore/sheetclass/pkg/sheetclass/store"
	"github.com/cognicore/sheetclass/pkg/sheetclass/supervisor"
)

// Classifier is the service surface the API exposes. *sheetclass.Service
// implements it.
type Classifier interface {
	Submit(req protocol.Request) (string, error)
	Classify(ctx context.Context, req protocol.Request) (protocol.Result, error)
	Lookup(ctx context.Context, requestID string) (store.ResultRecord, error)
	RecentResults(ctx context.Context, limit int) ([]store.ResultRecord, error)
	Reload(ctx context.Context, address string) error
	Snapshot() supervisor.Snapshot
	Trainings(ctx context.Context, limit int) ([]store.TrainingRun, error)
}

// APIServer holds the Gin engine and the classification service.
type APIServer struct {
	router  *gin.Engine
	svc     Classifier
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *zap.Logger
}

// NewAPIServer creates the HTTP API. timeout bounds synchronous
// classification and reloads.
func NewAPIServer(svc Classifier, m *metrics.Metrics, timeout time.Duration, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &APIServer{
		router:  router,
		svc:     svc,
		metrics: m,
		timeout: timeout,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/classify", s.handleClassify)
		v1.POST("/classify/async", s.handleClassifyAsync)
		v1.POST("/messages", s.handleMessage)
		v1.GET("/results", s.handleListResults)
		v1.GET("/results/:id", s.handleGetResult)
		v1.POST("/reload", s.handleReload)
		v1.GET("/status", s.handleStatus)
		v1.GET("/trainings", s.handleTrainings)
	}
}

// ReloadRequest is the body of POST /api/v1/reload. An empty address
// retrains from the current source.
type ReloadRequest struct {
	Address string `json:"address"`
}

// handleClassify handles POST /api/v1/classify
func (s *APIServer) handleClassify(c *gin.Context) {
	var req protocol.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	res, err := s.svc.Classify(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleClassifyAsync handles POST /api/v1/classify/async
func (s *APIServer) handleClassifyAsync(c *gin.Context) {
	var req protocol.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.svc.Submit(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "result": "/api/v1/results/" + id})
}

// handleMessage handles POST /api/v1/messages. It accepts a PAYLOAD in the
// {"type": ..., "value": ...} wire envelope.
func (s *APIServer) handleMessage(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, err := protocol.Decode(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, ok := msg.(protocol.Payload)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only " + string(protocol.KindPayload) + " messages are accepted, got " + string(msg.Kind())})
		return
	}

	id, err := s.svc.Submit(payload.Request)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "result": "/api/v1/results/" + id})
}

// handleListResults handles GET /api/v1/results?limit=N
func (s *APIServer) handleListResults(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	recs, err := s.svc.RecentResults(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, resultJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// handleGetResult handles GET /api/v1/results/:id
func (s *APIServer) handleGetResult(c *gin.Context) {
	rec, err := s.svc.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resultJSON(rec))
}

func resultJSON(rec store.ResultRecord) gin.H {
	return gin.H{
		"id":            rec.RequestID,
		"document_id":   rec.DocumentID,
		"worker_id":     rec.WorkerID,
		"text":          rec.Text,
		"keywords":      rec.Keywords,
		"category":      rec.Category,
		"probability":   rec.Probability,
		"classified_at": rec.ClassifiedAt,
	}
}

// handleReload handles POST /api/v1/reload
func (s *APIServer) handleReload(c *gin.Context) {
	var req ReloadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
	defer cancel()

	if err := s.svc.Reload(ctx, req.Address); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.Snapshot())
}

// handleStatus handles GET /api/v1/status
func (s *APIServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Snapshot())
}

// handleTrainings handles GET /api/v1/trainings?limit=N
func (s *APIServer) handleTrainings(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}

	runs, err := s.svc.Trainings(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		out = append(out, gin.H{
			"id":          r.ID,
			"worker_id":   r.WorkerID,
			"address":     r.Address,
			"started_at":  r.StartedAt,
			"finished_at": r.FinishedAt,
			"rows":        r.Rows,
			"categories":  r.Categories,
			"documents":   r.Documents,
			"fetch_ms":    r.FetchDuration.Milliseconds(),
			"build_ms":    r.BuildDuration.Milliseconds(),
			"train_ms":    r.TrainDuration.Milliseconds(),
			"status":      r.Status,
			"error":       r.Error,
		})
	}
	c.JSON(http.StatusOK, gin.H{"trainings": out})
}

// queryLimit reads ?limit=N, defaulting to 20. It writes the 400 response
// itself when the value is invalid.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 20, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (s *APIServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, internalerr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, internalerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, internalerr.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, internalerr.ErrTrainingFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, internalerr.ErrNotStarted),
		errors.Is(err, internalerr.ErrShuttingDown),
		errors.Is(err, internalerr.ErrWorkerStopped),
		errors.Is(err, internalerr.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
