// Package server exposes the HTTP surface of the daemon: the save-event hook
// the host tracker calls, a health probe, and a read-only jobs API.
//
// The hook always answers 202 for a well-formed delivery, whatever the
// engine decided; the host's save must never block on this side.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/engine"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/pkg/models"
)

// tokenHeader carries the shared hook secret when one is configured.
const tokenHeader = "X-Solder-Token"

const defaultListLimit = 50
const maxListLimit = 500

// Server wires the engine and the job store into HTTP handlers.
type Server struct {
	engine *engine.Engine
	store  *store.Store
	addr   string
	token  string
}

// New builds the HTTP server. An empty webhook token disables the
// shared-secret check on the hook endpoint.
func New(eng *engine.Engine, st *store.Store, settings config.ServerSettings) *Server {
	return &Server{
		engine: eng,
		store:  st,
		addr:   settings.ListenAddr,
		token:  settings.WebhookToken,
	}
}

// Router builds the gin handler tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.POST("/hooks/issue-saved", s.handleIssueSaved)

	api := r.Group("/api")
	{
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
	}
	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled, then drains
// in-flight requests before returning.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("http server listening", "addr", s.addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleIssueSaved decodes one save delivery and hands it to the engine. The
// response is 202 with the engine's outcome; delivery problems (bad token,
// malformed body) are the only non-202 answers.
func (s *Server) handleIssueSaved(c *gin.Context) {
	if s.token != "" && c.GetHeader(tokenHeader) != s.token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid hook token"})
		return
	}

	var event saveEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	outcome := s.engine.HandleSave(c.Request.Context(),
		event.Before.toModel(), *event.After.toModel(), event.Actor.toModel())
	c.JSON(http.StatusAccepted, outcome)
}

func (s *Server) handleListJobs(c *gin.Context) {
	state := models.JobState(c.Query("state"))
	if state != "" && !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state: " + string(state)})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := s.store.ListJobs(c.Request.Context(), state, limit)
	if err != nil {
		logging.Error("failed to list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	out := make([]jobDTO, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobDTO(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out, "count": len(out)})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := s.store.GetJob(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		logging.Error("failed to load job", "object_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, toJobDTO(*job))
}
