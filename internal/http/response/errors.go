package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	perrors "github.com/heimdex/heimdex-backend/internal/pkg/errors"
)

// RespondFromError maps the error taxonomy onto HTTP statuses so handlers
// can return domain errors without repeating the mapping at every call
// site. Unknown kinds surface as 500.
func RespondFromError(c *gin.Context, err error) {
	switch perrors.Classify(err) {
	case perrors.KindInvalid:
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case perrors.KindNotFound:
		RespondError(c, http.StatusNotFound, "not_found", err)
	case perrors.KindUnauthorized:
		RespondError(c, http.StatusUnauthorized, "unauthorized", err)
	case perrors.KindTransient:
		RespondError(c, http.StatusServiceUnavailable, "temporarily_unavailable", err)
	case perrors.KindCancelled:
		RespondError(c, http.StatusRequestTimeout, "request_cancelled", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
