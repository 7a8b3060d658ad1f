package authclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is the normalized shape of an auth service failure. The service
// has answered with several body formats over time; all of them end up here.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth api %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is an auth service rejection of the
// presented token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = string(body)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	switch {
	case eb.ErrorCode != "":
		apiErr.Code = eb.ErrorCode
	case eb.Error != "":
		apiErr.Code = eb.Error
	default:
		var code string
		if json.Unmarshal(eb.Code, &code) == nil {
			apiErr.Code = code
		}
	}

	for _, m := range []string{eb.Msg, eb.ErrorDescription, eb.Message, eb.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	return apiErr
}
