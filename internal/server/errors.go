package server

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.FromStatus(err)
	resp := ErrorResponse{Error: appErr.Message, Code: appErr.Code.String()}
	if details, mErr := protojson.Marshal(appErr.ErrorInfo()); mErr == nil {
		resp.Details = details
	}
	writeJSON(w, httpStatus(appErr.GRPCCode()), resp)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
