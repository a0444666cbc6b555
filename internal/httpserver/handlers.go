package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/dipper-go/internal/errors"
	"github.com/tphakala/dipper-go/internal/logger"
	"github.com/tphakala/dipper-go/internal/notification"
	"github.com/tphakala/dipper-go/internal/observation"
	"github.com/tphakala/dipper-go/internal/pipeline"
	"github.com/tphakala/dipper-go/internal/regions"
)

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs err under a correlation id and writes it as JSON.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = logger.RedactSensitiveData(err.Error())
	}

	s.log.Warn("api error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.Error(err))

	return c.JSON(code, resp)
}

// HealthCheck reports liveness, build, database and webhook circuit status.
func (s *Server) HealthCheck(c echo.Context) error {
	uptime := time.Since(s.started)
	resp := map[string]any{
		"status":          "healthy",
		"version":         s.config.Build.GetVersion(),
		"build_date":      s.config.Build.GetBuildDate(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"uptime":          uptime.Truncate(time.Second).String(),
		"uptime_seconds":  uptime.Seconds(),
		"database_status": "connected",
	}

	if s.threads != nil {
		if _, err := s.threads.GetAllThreads(c.Request().Context()); err != nil {
			resp["database_status"] = "disconnected"
			resp["status"] = "degraded"
		}
	}

	if n := s.config.Notifications; n != nil {
		resp["notifications"] = n.BreakerStats()
		if !n.Healthy() {
			resp["status"] = "degraded"
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// RunResponse is the result of an on-demand run.
type RunResponse struct {
	Region    string   `json:"region"`
	Query     string   `json:"query"`
	Status    string   `json:"status"`
	Delivered bool     `json:"delivered"`
	Messages  []string `json:"messages"`
	Fetched   int      `json:"fetched"`
	Converted int      `json:"converted"`
	Skipped   int      `json:"skipped"`
	Sent      int      `json:"sent"`
	Error     string   `json:"error,omitempty"`
}

// RunRegion runs the pipeline for the region in the path, given as a code or
// a name. deliver=false renders without sending.
func (s *Server) RunRegion(c echo.Context) error {
	ctx := c.Request().Context()
	query := strings.TrimSpace(c.Param("region"))
	if query == "" {
		return s.HandleError(c, nil, "region is required", http.StatusBadRequest)
	}

	deliver := true
	if v := c.QueryParam("deliver"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return s.HandleError(c, err, "deliver must be a boolean", http.StatusBadRequest)
		}
		deliver = b
	}

	code, err := s.lookup.Lookup(ctx, query)
	if err != nil {
		if errors.Is(err, regions.ErrRegionNotFound) {
			return s.HandleError(c, err, "region not found", http.StatusNotFound)
		}
		return s.HandleError(c, err, "region lookup failed", http.StatusInternalServerError)
	}

	route := pipeline.Route{Region: code, Name: query}
	if deliver && s.config.Routes != nil {
		routes, err := s.config.Routes(ctx)
		if err != nil {
			return s.HandleError(c, err, "failed to resolve destinations", http.StatusInternalServerError)
		}
		if r, ok := routes.Lookup(code); ok {
			route.Destination = r.Destination
			route.Name = r.Name
		}
	}

	res, err := s.runner.RunRegion(ctx, route)
	resp := RunResponse{
		Region:    code,
		Query:     query,
		Status:    res.Status,
		Delivered: route.Destination != "" && res.Status == pipeline.StatusSuccess,
		Messages:  res.Messages,
		Fetched:   res.Fetched,
		Converted: res.Converted,
		Skipped:   res.Skipped,
		Sent:      res.Delivered,
	}
	if err != nil {
		resp.Error = logger.RedactSensitiveData(err.Error())
		s.log.Warn("on-demand run failed", logger.String("region", code), logger.Error(err))
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// ThreadResponse is one tracked thread. The destination is labelled, never
// exposed.
type ThreadResponse struct {
	TrackerKey   string     `json:"tracker_key"`
	Species      string     `json:"species"`
	Region       string     `json:"region"`
	Destination  string     `json:"destination,omitempty"`
	Type         string     `json:"type"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	StatusBucket string     `json:"status_bucket"`
}

// ListThreads returns every tracked thread.
func (s *Server) ListThreads(c echo.Context) error {
	threads, err := s.threads.GetAllThreads(c.Request().Context())
	if err != nil {
		return s.HandleError(c, err, "failed to list threads", http.StatusInternalServerError)
	}

	out := make([]ThreadResponse, 0, len(threads))
	for i := range threads {
		t := &threads[i]
		species, region, _ := observation.SplitTrackerKey(t.TrackerKey)
		resp := ThreadResponse{
			TrackerKey:   t.TrackerKey,
			Species:      species,
			Region:       region,
			Type:         t.Type,
			LastSeenAt:   t.LastSeenAt,
			StatusBucket: t.StatusBucket,
		}
		if t.ThreadID != "" {
			resp.Destination = notification.DestinationLabel(t.ThreadID)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

// LookupRegion resolves ?name= to a region code, 404 when nothing matches.
func (s *Server) LookupRegion(c echo.Context) error {
	name := strings.TrimSpace(c.QueryParam("name"))
	if name == "" {
		return s.HandleError(c, nil, "name is required", http.StatusBadRequest)
	}

	code, err := s.lookup.Lookup(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, regions.ErrRegionNotFound) {
			return s.HandleError(c, err, "region not found", http.StatusNotFound)
		}
		return s.HandleError(c, err, "region lookup failed", http.StatusInternalServerError)
	}

	return c.JSON(http.StatusOK, map[string]string{"name": name, "code": code})
}
