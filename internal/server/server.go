package server

import (
	"errors"
	"net/http"

	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"github.com/feedlogapp/feedlog-backend/internal/interfaces"
	"github.com/feedlogapp/feedlog-backend/internal/logger"
	"github.com/gin-gonic/gin"
)

// Server wires the HTTP API over the service layer
type Server struct {
	engine     *gin.Engine
	sessions   interfaces.SessionServiceInterface
	backup     interfaces.BackupServiceInterface
	csv        interfaces.CSVImportServiceInterface
	insights   interfaces.InsightsServiceInterface
	errHandler *apperrors.Handler
}

func New(
	sessions interfaces.SessionServiceInterface,
	backup interfaces.BackupServiceInterface,
	csv interfaces.CSVImportServiceInterface,
	insights interfaces.InsightsServiceInterface,
) *Server {
	s := &Server{
		engine:     gin.New(),
		sessions:   sessions,
		backup:     backup,
		csv:        csv,
		insights:   insights,
		errHandler: apperrors.NewHandler(logger.GetLogger()),
	}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.POST("/sessions", s.createSessionHandler)
	api.GET("/sessions", s.listSessionsHandler)
	api.GET("/sessions/stats", s.statsHandler)
	api.PATCH("/sessions/:id", s.updateSessionHandler)
	api.DELETE("/sessions/:id", s.deleteSessionHandler)
	api.DELETE("/sessions", s.resetHandler)

	api.GET("/backup/export", s.exportHandler)
	api.POST("/backup/import", s.importJSONHandler)
	api.POST("/backup/import/csv", s.importCSVHandler)

	api.POST("/insights", s.insightsHandler)
	api.POST("/chat", s.chatHandler)
}

// Run blocks serving the API on the given address
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Engine exposes the router for tests
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// respondError logs the error through the taxonomy handler and maps it onto
// an HTTP status code
func (s *Server) respondError(c *gin.Context, err error) {
	s.errHandler.Handle(c.Request.Context(), err)

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation, apperrors.ErrorTypeImport:
			c.JSON(http.StatusBadRequest, gin.H{"error": appErr.Message})
			return
		case apperrors.ErrorTypeNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": appErr.Message})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
