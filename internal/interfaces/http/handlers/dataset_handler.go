package handlers

import (
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// DatasetHandler serves dataset documents and their snapshots.
type DatasetHandler struct {
	repo          dataset.Repository
	archiver      appbatch.SnapshotArchiver
	defaultVOrigL func() float64
	logger        logging.Logger
	now           func() time.Time
}

// NewDatasetHandler creates a DatasetHandler. archiver may be nil, which
// disables snapshot creation. defaultVOrigL supplies the water volume of
// the first point of new datasets.
func NewDatasetHandler(repo dataset.Repository, archiver appbatch.SnapshotArchiver, defaultVOrigL func() float64, logger logging.Logger) *DatasetHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if defaultVOrigL == nil {
		defaultVOrigL = func() float64 { return 0 }
	}
	return &DatasetHandler{
		repo:          repo,
		archiver:      archiver,
		defaultVOrigL: defaultVOrigL,
		logger:        logger.Named("http.dataset"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the dataset routes on rg.
func (h *DatasetHandler) RegisterRoutes(rg *gin.RouterGroup) {
	d := rg.Group("/datasets")
	d.GET("", h.List)
	d.POST("", h.Create)
	d.GET("/:datasetID", h.Get)
	d.PUT("/:datasetID", h.Replace)
	d.DELETE("/:datasetID", h.Delete)
	d.POST("/:datasetID/snapshots", h.Snapshot)
}

// CreateDatasetRequest opens an empty dataset.
type CreateDatasetRequest struct {
	TitlePrefix   string   `json:"titlePrefix"`
	DefaultVOrigL *float64 `json:"defaultVOrigL"`
}

// SnapshotRequest names why a snapshot is taken.
type SnapshotRequest struct {
	Reason string `json:"reason"`
}

// SnapshotResponse returns the archive key.
type SnapshotResponse struct {
	DatasetID string `json:"datasetId"`
	Key       string `json:"key"`
}

// List handles GET /datasets, newest first.
func (h *DatasetHandler) List(c *gin.Context) {
	page, pageSize := parsePagination(c)
	items, total, err := h.repo.List(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if items == nil {
		items = []dataset.Summary{}
	}
	c.JSON(http.StatusOK, ListResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Create handles POST /datasets.
func (h *DatasetHandler) Create(c *gin.Context) {
	var req CreateDatasetRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	vol := h.defaultVOrigL()
	if req.DefaultVOrigL != nil {
		if *req.DefaultVOrigL < 0 || math.IsNaN(*req.DefaultVOrigL) {
			respondError(c, h.logger, errors.InvalidParam("defaultVOrigL must not be negative"))
			return
		}
		vol = *req.DefaultVOrigL
	}
	d := dataset.NewDataset(strings.TrimSpace(req.TitlePrefix), vol)
	if err := h.repo.Save(c.Request.Context(), d); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Dataset created", logging.DatasetID(d.ID))
	c.JSON(http.StatusCreated, d)
}

// Get handles GET /datasets/:datasetID.
func (h *DatasetHandler) Get(c *gin.Context) {
	d, err := h.repo.Get(c.Request.Context(), c.Param("datasetID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Replace handles PUT /datasets/:datasetID. Snapshots are read-only and the
// creation time of an existing dataset is kept.
func (h *DatasetHandler) Replace(c *gin.Context) {
	id := c.Param("datasetID")
	var d dataset.Dataset
	if err := bindJSON(c, &d); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if d.ID != "" && d.ID != id {
		respondError(c, h.logger, errors.InvalidParam("dataset id does not match the path").WithDetail(d.ID))
		return
	}
	d.ID = id

	ctx := c.Request.Context()
	existing, err := h.repo.Get(ctx, id)
	switch {
	case err == nil:
		if existing.ReadOnly {
			respondError(c, h.logger, errors.New(errors.ErrCodeDatasetReadOnly, "dataset is a read-only snapshot").WithDetail(id))
			return
		}
		d.CreatedAt = existing.CreatedAt
		d.ReadOnly = false
		d.SnapshotAt = nil
		d.SnapshotSourceID = ""
	case errors.IsCode(err, errors.ErrCodeDatasetNotFound):
		if d.CreatedAt.IsZero() {
			d.CreatedAt = h.now()
		}
	default:
		respondError(c, h.logger, err)
		return
	}
	if d.Species == nil {
		d.Species = []dataset.Species{}
	}
	d.UpdatedAt = h.now()

	if err := h.repo.Save(ctx, &d); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, &d)
}

// Delete handles DELETE /datasets/:datasetID.
func (h *DatasetHandler) Delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), c.Param("datasetID")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Snapshot handles POST /datasets/:datasetID/snapshots.
func (h *DatasetHandler) Snapshot(c *gin.Context) {
	if h.archiver == nil {
		respondError(c, h.logger, errors.New(errors.ErrCodeFeatureDisabled, "snapshots are disabled"))
		return
	}
	var req SnapshotRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "手动快照"
	}

	ctx := c.Request.Context()
	d, err := h.repo.Get(ctx, c.Param("datasetID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	key, err := h.archiver.Archive(ctx, d, reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, SnapshotResponse{DatasetID: d.ID, Key: key})
}
