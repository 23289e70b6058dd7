package response

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorllm/internal/errs"
)

const (
	CodeOK             = 0
	CodeBadRequest     = 40000
	CodeUnauthorized   = 40100
	CodeNotFound       = 40400
	CodeConflict       = 40900
	CodeUnprocessable  = 42200
	CodeInternalServer = 50000
	CodeUnavailable    = 50300
)

type APIResponse struct {
	Code    int         `json:"code"`
	Kind    errs.Kind   `json:"kind,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorFrom writes err with the status and code of its kind. Internal
// failures are logged and reported without detail.
func ErrorFrom(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := errs.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.JSON(status, APIResponse{
		Code:    CodeFor(kind),
		Kind:    kind,
		Message: errs.Message(err),
	})
}

func CodeFor(kind errs.Kind) int {
	switch kind {
	case errs.KindIngestion, errs.KindInvalidInput:
		return CodeBadRequest
	case errs.KindUnauthorized:
		return CodeUnauthorized
	case errs.KindSessionNotFound:
		return CodeNotFound
	case errs.KindConflict:
		return CodeConflict
	case errs.KindSchemaValidation:
		return CodeUnprocessable
	case errs.KindRetrievalUnavailable, errs.KindGenerationUnavailable:
		return CodeUnavailable
	default:
		return CodeInternalServer
	}
}
