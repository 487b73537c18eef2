// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api defines the HTTP routes of the experiment server.
//
// Routes (under the group passed to Register):
//   - GET  /experiments            recent runs, newest first (?count=N)
//   - POST /experiments            start a run for {"source": "..."}
//   - GET  /experiments/:id        one run
//   - GET  /experiments/:id/video  signed URL of the reconstruction
//   - GET  /stats                  aggregates over recent runs
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/core/services"
	"github.com/jaycherian/gencomm-video/internal/ledger"
)

// DefaultURLExpiry is how long signed video URLs stay valid.
const DefaultURLExpiry = 15 * time.Minute

// RunQuery reads recorded runs.
type RunQuery interface {
	List(ctx context.Context, limit int) ([]*model.ExperimentRun, error)
	Get(ctx context.Context, id string) (*model.ExperimentRun, error)
	SignedVideoURL(ctx context.Context, id string, expires time.Duration) (string, error)
}

// Runner executes one experiment into a caller-created run record.
type Runner interface {
	RunRecord(ctx context.Context, run *model.ExperimentRun) error
}

// Server holds the collaborators of the routes. BaseContext bounds
// experiments started through POST, which outlive their request.
type Server struct {
	Runs        RunQuery
	Runner      Runner
	BaseContext context.Context
	URLExpiry   time.Duration
}

type startRequest struct {
	Source string `json:"source" binding:"required"`
}

// Register adds the routes to r.
func (s *Server) Register(r *gin.RouterGroup) {
	experiments := r.Group("/experiments")
	{
		experiments.GET("", s.list)
		experiments.POST("", s.start)
		experiments.GET("/:id", s.get)
		experiments.GET("/:id/video", s.video)
	}
	Dashboard(r, s.Runs)
}

func count(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.DefaultQuery("count", strconv.Itoa(def)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) list(c *gin.Context) {
	runs, err := s.Runs.List(c, count(c, services.DefaultListLimit))
	if err != nil {
		slog.ErrorContext(c, "failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list experiments"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) get(c *gin.Context) {
	run, err := s.Runs.Get(c, c.Param("id"))
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) video(c *gin.Context) {
	expiry := s.URLExpiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	u, err := s.Runs.SignedVideoURL(c, c.Param("id"), expiry)
	if err != nil {
		s.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

func (s *Server) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, ledger.ErrRunNotFound) || errors.Is(err, services.ErrNoArtifact) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	slog.ErrorContext(c, "request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (s *Server) start(c *gin.Context) {
	if s.Runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "experiments cannot be started on this server"})
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Source) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a source is required"})
		return
	}

	run := model.NewExperimentRun(strings.TrimSpace(req.Source))
	accepted := gin.H{"id": run.Id, "source": run.Source, "status": run.Status}

	base := s.BaseContext
	if base == nil {
		base = context.Background()
	}
	go func() {
		if err := s.Runner.RunRecord(base, run); err != nil {
			slog.ErrorContext(base, "experiment failed", "run", run.Id, "error", err)
			return
		}
		slog.InfoContext(base, "experiment finished", "run", run.Id)
	}()
	c.JSON(http.StatusAccepted, accepted)
}
