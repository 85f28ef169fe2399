package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/justiceops/recordsync/internal/gateway"
	"github.com/justiceops/recordsync/internal/history"
	"github.com/justiceops/recordsync/internal/migrate"
)

// StartRequest begins a bulk migration run.
type StartRequest struct {
	Type   string         `json:"type" binding:"required"`
	Filter gateway.Filter `json:"filter"`
}

func (s *Server) startMigration(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := s.engine.Start(c.Request.Context(), req.Type, req.Filter)
	switch {
	case errors.Is(err, history.ErrActiveRun):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, run)
	}
}

func (s *Server) listMigrations(c *gin.Context) {
	filter := history.ListFilter{
		Type:         c.Query("type"),
		OnlyFailures: c.Query("onlyFailures") == "true",
	}
	if v := c.Query("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from: expected RFC3339 timestamp"})
			return
		}
		filter.From = &from
	}
	if v := c.Query("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to: expected RFC3339 timestamp"})
			return
		}
		filter.To = &to
	}

	runs, err := s.ledger.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) activeMigrations(c *gin.Context) {
	var active []history.Run
	for _, recordType := range s.engine.Types() {
		run, err := s.ledger.Active(c.Request.Context(), recordType)
		if errors.Is(err, history.ErrNotFound) {
			continue
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		active = append(active, run)
	}
	if active == nil {
		active = []history.Run{}
	}
	c.JSON(http.StatusOK, active)
}

func (s *Server) getMigration(c *gin.Context) {
	run, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, run)
	}
}

func (s *Server) cancelMigration(c *gin.Context) {
	id := c.Param("id")
	run, err := s.ledger.Get(c.Request.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = s.engine.Cancel(c.Request.Context(), run.Type, id)
	switch {
	case errors.Is(err, history.ErrBadTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"migrationId": id, "status": history.StatusCancelling})
	}
}

func (s *Server) refreshRecord(c *gin.Context) {
	recordType := c.Param("type")
	sourceID := c.Param("sourceId")
	deleteFirst, _ := strconv.ParseBool(c.DefaultQuery("deleteFirst", "false"))

	outcome, err := s.engine.Remigrate(c.Request.Context(), recordType, sourceID, deleteFirst)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sourceId": sourceID,
		"outcome":  outcomeLabel(outcome),
	})
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Snapshot())
}

func outcomeLabel(o migrate.Outcome) string {
	switch o {
	case migrate.OutcomeMigrated:
		return "migrated"
	case migrate.OutcomeAlreadyMapped:
		return "already-mapped"
	case migrate.OutcomeDuplicate:
		return "duplicate"
	case migrate.OutcomeSourceGone:
		return "source-missing"
	case migrate.OutcomeMappingRetryScheduled:
		return "mapping-retry-scheduled"
	default:
		return "unknown"
	}
}
