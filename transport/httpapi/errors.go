package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
)

const codeRateLimited = "rate_limited"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// statusFor maps the engine's error classes onto HTTP.
func statusFor(kind authcore.ErrorKind) int {
	switch kind {
	case authcore.KindValidation:
		return http.StatusBadRequest
	case authcore.KindUnauthenticated:
		return http.StatusUnauthorized
	case authcore.KindConflict:
		return http.StatusConflict
	case authcore.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := authcore.Kind(err)
	detail := errorDetail{Code: kind.String()}

	switch kind {
	case authcore.KindValidation:
		var verr *authcore.ValidationError
		if errors.As(err, &verr) {
			detail.Message = verr.Error()
			detail.Field = verr.Field
		} else {
			detail.Message = authcore.ErrValidation.Error()
		}
	case authcore.KindUnauthenticated:
		detail.Message = authcore.ErrUnauthenticated.Error()
	case authcore.KindConflict:
		detail.Message = authcore.ErrConflict.Error()
	case authcore.KindServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		detail.Message = authcore.ErrServiceUnavailable.Error()
	default:
		detail.Code = authcore.KindInternal.String()
		detail.Message = authcore.ErrInternal.Error()
		logging.FromContext(r.Context(), nil).Error("http.internal_error", "path", r.URL.Path, "error", err)
	}

	writeJSON(w, statusFor(kind), errorBody{Error: detail})
}

// rejectUnauthenticated is the bearer guard's rejection writer.
func rejectUnauthenticated(w http.ResponseWriter, r *http.Request, _ error) {
	writeError(w, r, authcore.ErrUnauthenticated)
}

// RejectThrottled writes the 429 body. Pass it to middleware.NewThrottle.
func RejectThrottled(w http.ResponseWriter, _ *http.Request, _ error) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
		Code:    codeRateLimited,
		Message: "too many requests",
	}})
}
