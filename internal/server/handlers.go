package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/services"
	"github.com/feedlogapp/feedlog-backend/internal/utils"
	"github.com/gin-gonic/gin"
)

// maxImportBodyBytes bounds upload size well above the record ceiling so the
// ceiling check, not the transport, is what callers hit first.
const maxImportBodyBytes = 64 << 20

type sessionRequest struct {
	Timestamp     string   `json:"timestamp" binding:"required"`
	AmountML      float64  `json:"amount_ml"`
	AmountEntered float64  `json:"amount_entered"`
	UnitEntered   string   `json:"unit_entered"`
	SessionType   string   `json:"session_type"`
	Side          string   `json:"side"`
	Source        string   `json:"source"`
	Notes         string   `json:"notes"`
	AmountLeftML  *float64 `json:"amount_left_ml"`
	AmountRightML *float64 `json:"amount_right_ml"`
	DurationMin   *float64 `json:"duration_min"`
}

func (s *Server) createSessionHandler(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timestamp, ok := utils.CoerceInstant(req.Timestamp)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be a valid instant"})
		return
	}

	session, err := s.sessions.AddSession(c.Request.Context(), services.SessionInput{
		Timestamp:     timestamp,
		AmountML:      req.AmountML,
		AmountEntered: req.AmountEntered,
		UnitEntered:   req.UnitEntered,
		SessionType:   req.SessionType,
		Side:          req.Side,
		Source:        req.Source,
		Notes:         req.Notes,
		AmountLeftML:  req.AmountLeftML,
		AmountRightML: req.AmountRightML,
		DurationMin:   req.DurationMin,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessionsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	sessions, err := s.sessions.ListSessions(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) statsHandler(c *gin.Context) {
	stats, err := s.sessions.Stats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type sessionUpdateRequest struct {
	Timestamp     *string  `json:"timestamp"`
	AmountML      *float64 `json:"amount_ml"`
	AmountEntered *float64 `json:"amount_entered"`
	UnitEntered   *string  `json:"unit_entered"`
	SessionType   *string  `json:"session_type"`
	Side          *string  `json:"side"`
	Source        *string  `json:"source"`
	Notes         *string  `json:"notes"`
	AmountLeftML  *float64 `json:"amount_left_ml"`
	AmountRightML *float64 `json:"amount_right_ml"`
	DurationMin   *float64 `json:"duration_min"`
}

func (s *Server) updateSessionHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req sessionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update := services.SessionUpdate{
		AmountML:      req.AmountML,
		AmountEntered: req.AmountEntered,
		UnitEntered:   req.UnitEntered,
		SessionType:   req.SessionType,
		Side:          req.Side,
		Source:        req.Source,
		Notes:         req.Notes,
		AmountLeftML:  req.AmountLeftML,
		AmountRightML: req.AmountRightML,
		DurationMin:   req.DurationMin,
	}
	if req.Timestamp != nil {
		timestamp, ok := utils.CoerceInstant(*req.Timestamp)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp must be a valid instant"})
			return
		}
		update.Timestamp = &timestamp
	}

	session, err := s.sessions.UpdateSession(c.Request.Context(), id, update)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSessionHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.sessions.DeleteSession(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.sessions.Reset(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) exportHandler(c *gin.Context) {
	data, err := s.backup.Export(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	filename := fmt.Sprintf("feedlog-backup-%s.json", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) importJSONHandler(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := s.backup.ImportJSON(c.Request.Context(), data)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) importCSVHandler(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file upload"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	result, err := s.csv.ImportCSV(c.Request.Context(), io.LimitReader(file, maxImportBodyBytes))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) insightsHandler(c *gin.Context) {
	text, err := s.insights.GenerateInsights(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": text})
}

func (s *Server) chatHandler(c *gin.Context) {
	var req struct {
		Question string `json:"question" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	answer, err := s.insights.Answer(c.Request.Context(), req.Question)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return uint(id), true
}
