package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/domain/reference"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// ReferenceHandler serves the alias table, the custom wet-weight and
// taxonomy libraries and the species-info cache.
type ReferenceHandler struct {
	aliases    reference.AliasStore
	wetWeights reference.WetWeightLibrary
	taxonomy   reference.TaxonomyLibrary
	cache      reference.SpeciesInfoCache
	logger     logging.Logger
}

// ReferenceDeps are the stores behind ReferenceHandler. Nil stores leave
// their routes unregistered.
type ReferenceDeps struct {
	Aliases    reference.AliasStore
	WetWeights reference.WetWeightLibrary
	Taxonomy   reference.TaxonomyLibrary
	Cache      reference.SpeciesInfoCache
}

// NewReferenceHandler creates a ReferenceHandler.
func NewReferenceHandler(deps ReferenceDeps, logger logging.Logger) *ReferenceHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ReferenceHandler{
		aliases:    deps.Aliases,
		wetWeights: deps.WetWeights,
		taxonomy:   deps.Taxonomy,
		cache:      deps.Cache,
		logger:     logger.Named("http.reference"),
	}
}

// RegisterRoutes mounts the reference routes on rg.
func (h *ReferenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	if h.aliases != nil {
		rg.GET("/aliases", h.ListAliases)
		rg.PUT("/aliases/:alias", h.PutAlias)
		rg.DELETE("/aliases/:alias", h.DeleteAlias)
	}
	if h.wetWeights != nil {
		rg.GET("/wetweights", h.ListWetWeights)
		rg.GET("/wetweights/:name", h.GetWetWeight)
		rg.PUT("/wetweights/:name", h.PutWetWeight)
	}
	if h.taxonomy != nil {
		rg.GET("/taxonomies", h.ListTaxonomies)
		rg.GET("/taxonomies/:name", h.GetTaxonomy)
		rg.PUT("/taxonomies/:name", h.PutTaxonomy)
	}
	if h.cache != nil {
		rg.DELETE("/cache/species-info", h.ClearCache)
	}
}

// AliasRequest is the body of PUT /aliases/:alias.
type AliasRequest struct {
	Canonical string `json:"canonical"`
}

// NamesResponse lists library names.
type NamesResponse struct {
	Names []string `json:"names"`
}

// ClearCacheResponse reports how many cache entries were dropped.
type ClearCacheResponse struct {
	Removed int64 `json:"removed"`
}

// ListAliases handles GET /aliases.
func (h *ReferenceHandler) ListAliases(c *gin.Context) {
	list, err := h.aliases.ListAliases(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []reference.Alias{}
	}
	c.JSON(http.StatusOK, gin.H{"aliases": list})
}

// PutAlias handles PUT /aliases/:alias.
func (h *ReferenceHandler) PutAlias(c *gin.Context) {
	var req AliasRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	a := reference.Alias{Alias: strings.TrimSpace(c.Param("alias")), Canonical: strings.TrimSpace(req.Canonical)}
	if err := h.aliases.UpsertAlias(c.Request.Context(), a); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteAlias handles DELETE /aliases/:alias.
func (h *ReferenceHandler) DeleteAlias(c *gin.Context) {
	if err := h.aliases.DeleteAlias(c.Request.Context(), c.Param("alias")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListWetWeights handles GET /wetweights.
func (h *ReferenceHandler) ListWetWeights(c *gin.Context) {
	names, err := h.wetWeights.ListWetWeightNames(c.Request.Context())
	h.respondNames(c, names, err)
}

// GetWetWeight handles GET /wetweights/:name.
func (h *ReferenceHandler) GetWetWeight(c *gin.Context) {
	name := c.Param("name")
	e, err := h.wetWeights.FindWetWeight(c.Request.Context(), name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if e == nil {
		respondError(c, h.logger, errors.NotFound("wet weight not found").WithDetail(name))
		return
	}
	c.JSON(http.StatusOK, e)
}

// PutWetWeight handles PUT /wetweights/:name. Entries written here are
// always manual.
func (h *ReferenceHandler) PutWetWeight(c *gin.Context) {
	var e reference.WetWeightEntry
	if err := bindJSON(c, &e); err != nil {
		respondError(c, h.logger, err)
		return
	}
	if e.WetWeightMg <= 0 {
		respondError(c, h.logger, errors.InvalidParam("wetWeightMg must be positive"))
		return
	}
	e.NameCn = strings.TrimSpace(c.Param("name"))
	e.Origin = reference.OriginManual
	if err := h.wetWeights.UpsertWetWeight(c.Request.Context(), e); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// ListTaxonomies handles GET /taxonomies.
func (h *ReferenceHandler) ListTaxonomies(c *gin.Context) {
	names, err := h.taxonomy.ListTaxonomyNames(c.Request.Context())
	h.respondNames(c, names, err)
}

// GetTaxonomy handles GET /taxonomies/:name.
func (h *ReferenceHandler) GetTaxonomy(c *gin.Context) {
	name := c.Param("name")
	rec, err := h.taxonomy.FindTaxonomy(c.Request.Context(), name)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if rec == nil {
		respondError(c, h.logger, errors.NotFound("taxonomy not found").WithDetail(name))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// PutTaxonomy handles PUT /taxonomies/:name.
func (h *ReferenceHandler) PutTaxonomy(c *gin.Context) {
	var rec reference.TaxonomyRecord
	if err := bindJSON(c, &rec); err != nil {
		respondError(c, h.logger, err)
		return
	}
	rec.NameCn = strings.TrimSpace(c.Param("name"))
	if rec.Taxonomy.IsBlank() {
		respondError(c, h.logger, errors.InvalidParam("taxonomy must set at least one level"))
		return
	}
	if err := h.taxonomy.UpsertTaxonomy(c.Request.Context(), rec); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ClearCache handles DELETE /cache/species-info.
func (h *ReferenceHandler) ClearCache(c *gin.Context) {
	n, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Species-info cache cleared", logging.Int64("removed", n))
	c.JSON(http.StatusOK, ClearCacheResponse{Removed: n})
}

func (h *ReferenceHandler) respondNames(c *gin.Context, names []string, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, NamesResponse{Names: names})
}
