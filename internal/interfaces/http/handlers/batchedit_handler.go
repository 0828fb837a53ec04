package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// BatchEditHandler exposes parse sessions and the batch-edit settings.
type BatchEditHandler struct {
	svc    appbatch.Service
	logger logging.Logger
}

// NewBatchEditHandler creates a BatchEditHandler.
func NewBatchEditHandler(svc appbatch.Service, logger logging.Logger) *BatchEditHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BatchEditHandler{svc: svc, logger: logger.Named("http.batchedit")}
}

// RegisterRoutes mounts the session and settings routes on rg.
func (h *BatchEditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	s := rg.Group("/sessions")
	s.POST("", h.StartSession)
	s.GET("/:sessionID", h.GetSession)
	s.PATCH("/:sessionID", h.UpdateSession)
	s.DELETE("/:sessionID", h.CloseSession)
	s.POST("/:sessionID/reparse", h.Reparse)
	s.POST("/:sessionID/corrections", h.ResolveCorrection)
	s.POST("/:sessionID/apply", h.Apply)

	rg.GET("/settings", h.GetSettings)
	rg.PUT("/settings", h.UpdateSettings)
}

// sessionID reads the path parameter and tags the request context with it.
func (h *BatchEditHandler) sessionID(c *gin.Context) string {
	id := c.Param("sessionID")
	c.Request = c.Request.WithContext(logging.ContextWithSessionID(c.Request.Context(), id))
	return id
}

// StartSession handles POST /sessions.
func (h *BatchEditHandler) StartSession(c *gin.Context) {
	var req appbatch.StartRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	view, err := h.svc.StartSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetSession handles GET /sessions/:sessionID.
func (h *BatchEditHandler) GetSession(c *gin.Context) {
	view, err := h.svc.GetSession(c.Request.Context(), h.sessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateSession handles PATCH /sessions/:sessionID.
func (h *BatchEditHandler) UpdateSession(c *gin.Context) {
	id := h.sessionID(c)
	var req appbatch.UpdateRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	view, err := h.svc.UpdateSession(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CloseSession handles DELETE /sessions/:sessionID.
func (h *BatchEditHandler) CloseSession(c *gin.Context) {
	if err := h.svc.CloseSession(c.Request.Context(), h.sessionID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reparse handles POST /sessions/:sessionID/reparse.
func (h *BatchEditHandler) Reparse(c *gin.Context) {
	view, err := h.svc.Reparse(c.Request.Context(), h.sessionID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ResolveCorrection handles POST /sessions/:sessionID/corrections.
func (h *BatchEditHandler) ResolveCorrection(c *gin.Context) {
	id := h.sessionID(c)
	var d appbatch.CorrectionDecision
	if err := bindJSON(c, &d); err != nil {
		respondError(c, h.logger, err)
		return
	}
	view, err := h.svc.ResolveCorrection(c.Request.Context(), id, &d)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Apply handles POST /sessions/:sessionID/apply. The body is optional.
func (h *BatchEditHandler) Apply(c *gin.Context) {
	id := h.sessionID(c)
	var opts appbatch.ApplyOptions
	if err := bindOptionalJSON(c, &opts); err != nil {
		respondError(c, h.logger, err)
		return
	}
	res, err := h.svc.Apply(c.Request.Context(), id, &opts)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SettingsResponse is the wire form of the batch-edit settings.
type SettingsResponse struct {
	RequireConfirm     bool             `json:"requireConfirm"`
	AutoCorrect        bool             `json:"autoCorrect"`
	DefaultVOrigL      float64          `json:"defaultVOrigL"`
	AutoMatchWriteToDb bool             `json:"autoMatchWriteToDb"`
	DefaultMode        domainbatch.Mode `json:"defaultMode"`
}

// SettingsPatch changes the fields that are present.
type SettingsPatch struct {
	RequireConfirm     *bool    `json:"requireConfirm"`
	AutoCorrect        *bool    `json:"autoCorrect"`
	DefaultVOrigL      *float64 `json:"defaultVOrigL"`
	AutoMatchWriteToDb *bool    `json:"autoMatchWriteToDb"`
}

func (h *BatchEditHandler) settingsResponse() SettingsResponse {
	s := h.svc.Settings()
	return SettingsResponse{
		RequireConfirm:     s.RequireConfirm,
		AutoCorrect:        s.AutoCorrect,
		DefaultVOrigL:      s.DefaultVOrigL,
		AutoMatchWriteToDb: s.AutoMatchWriteToDb,
		DefaultMode:        h.svc.DefaultMode(),
	}
}

// GetSettings handles GET /settings.
func (h *BatchEditHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settingsResponse())
}

// UpdateSettings handles PUT /settings.
func (h *BatchEditHandler) UpdateSettings(c *gin.Context) {
	var patch SettingsPatch
	if err := bindJSON(c, &patch); err != nil {
		respondError(c, h.logger, err)
		return
	}
	next := h.svc.Settings()
	if patch.RequireConfirm != nil {
		next.RequireConfirm = *patch.RequireConfirm
	}
	if patch.AutoCorrect != nil {
		next.AutoCorrect = *patch.AutoCorrect
	}
	if patch.AutoMatchWriteToDb != nil {
		next.AutoMatchWriteToDb = *patch.AutoMatchWriteToDb
	}
	if v := patch.DefaultVOrigL; v != nil {
		if *v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			respondError(c, h.logger, errors.InvalidParam("defaultVOrigL must be a positive number"))
			return
		}
		next.DefaultVOrigL = *v
	}
	h.svc.UpdateSettings(next)
	c.JSON(http.StatusOK, h.settingsResponse())
}
