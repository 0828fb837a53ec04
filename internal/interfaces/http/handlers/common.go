package handlers

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/internal/interfaces/http/middleware"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListResponse is the envelope of paged collections.
type ListResponse struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// parsePagination reads page and page_size, falling back to 1 and 20.
func parsePagination(c *gin.Context) (page, pageSize int) {
	page, pageSize = 1, defaultPageSize
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= maxPageSize {
		pageSize = v
	}
	return page, pageSize
}

// bindJSON decodes the request body into dst.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.InvalidParam("request body too large")
		}
		return errors.InvalidParam("invalid request body").WithDetail(err.Error())
	}
	return nil
}

// bindOptionalJSON is bindJSON that accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && err != io.EOF {
		return errors.InvalidParam("invalid request body").WithDetail(err.Error())
	}
	return nil
}

// respondError logs server-side failures and writes the error envelope.
func respondError(c *gin.Context, logger logging.Logger, err error) {
	if errors.IsServerError(errors.GetCode(err)) || errors.GetCode(err) == errors.CodeUnknown {
		logger.WithContext(c.Request.Context()).Error("Request failed",
			logging.String("method", c.Request.Method),
			logging.String("route", c.FullPath()),
			logging.Err(err),
		)
	}
	_ = c.Error(err)
	middleware.WriteError(c, err)
}
