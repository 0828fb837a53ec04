package middleware

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteError aborts the request with the status mapped from err's code.
// Errors without an application code are reported as internal errors and
// their text is not exposed.
func WriteError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	resp := ErrorResponse{Code: string(code), RequestID: GetRequestID(c)}

	var ae *errors.AppError
	if code == errors.CodeUnknown || !stderrors.As(err, &ae) {
		code = errors.ErrCodeInternal
		resp.Code = string(code)
		resp.Message = errors.DefaultMessageForCode(code)
	} else {
		resp.Message = ae.Message
		resp.Detail = ae.Detail
	}
	c.AbortWithStatusJSON(errors.HTTPStatusForCode(code), resp)
}
