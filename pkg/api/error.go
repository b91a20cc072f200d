package api

import (
	"errors"
	"net/http"

	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// ErrNotFound is the cause of every 404 returned by the service.
var ErrNotFound = errors.New("not found")

// Error codes the server attaches to moderation responses.
const (
	CodeModerationFailed      = "moderation_failed"
	CodeModerationUnavailable = "moderation_unavailable"
)

// ErrorResponse is the error envelope of the API. FastAPI-style servers nest
// the same fields under "detail".
type ErrorResponse struct {
	Code            string            `json:"code,omitempty"`
	Message         string            `json:"message,omitempty"`
	Error           string            `json:"error,omitempty"`
	ModerationError *ModerationDetail `json:"moderation_error,omitempty"`
	Detail          json.RawMessage   `json:"detail,omitempty"`
}

func (e *ErrorResponse) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	}
	var detail string
	if json.Unmarshal(e.Detail, &detail) == nil {
		return detail
	}
	return ""
}

func decodeErrorResponse(body []byte) ErrorResponse {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ErrorResponse{}
	}
	if len(resp.Detail) > 0 && resp.Detail[0] == '{' {
		var nested ErrorResponse
		if json.Unmarshal(resp.Detail, &nested) == nil {
			if nested.Code == "" {
				nested.Code = resp.Code
			}
			if nested.ModerationError == nil {
				nested.ModerationError = resp.ModerationError
			}
			return nested
		}
	}
	return resp
}

// ParseError maps a non-2xx response onto the error taxonomy.
func ParseError(resp *resty.Response) error {
	statusCode := resp.StatusCode()
	body := decodeErrorResponse(resp.Body())

	switch {
	case statusCode == http.StatusNotFound:
		return cerrors.NewCLIError(cerrors.ErrorTypeNotFound, firstNonEmpty(body.text(), "Resource not found"), ErrNotFound)

	case (statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity) &&
		(body.ModerationError != nil || body.Code == CodeModerationFailed):
		detail := ModerationDetail{Message: body.text()}
		if body.ModerationError != nil {
			detail = *body.ModerationError
		}
		return detail.Err(statusCode)

	case body.Code == CodeModerationUnavailable,
		statusCode == http.StatusServiceUnavailable:
		return cerrors.ServiceUnavailableError(statusCode, body.text())

	case statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError:
		err := cerrors.NewCLIError(cerrors.ErrorTypeServer, firstNonEmpty(body.text(), resp.Status()), nil)
		err.StatusCode = statusCode
		return err

	default:
		return cerrors.ServerError(statusCode, body.text())
	}
}

// transportError wraps failures that happened before a usable response
// existed, including bodies that could not be decoded.
func transportError(message string, err error) error {
	if cliErr := cerrors.CategorizeError(err); cliErr.Type == cerrors.ErrorTypeTransport {
		return cliErr
	}
	return cerrors.TransportError(message, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
