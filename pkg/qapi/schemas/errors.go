package schemas

import (
	"errors"
	"net/http"

	"github.com/quatton/qremote/pkg/qerr"
)

// Stable error codes returned in API error bodies.
const (
	CodeJobAlreadyExists  = "Job_0001"
	CodeJobNotFound       = "Job_0002"
	CodeJobCannotCancel   = "Job_0003"
	CodeJobExecution      = "Job_0004"
	CodeJobAlreadyRunning = "Job_0005"
	CodeJobInvalidUpdate  = "Job_0006"
)

// APIError is the error body of every failed job operation.
type APIError struct {
	Status int    `json:"status" doc:"HTTP status code"`
	Code   string `json:"code" doc:"Stable error code"`
	Detail string `json:"detail" doc:"Human readable message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Detail
}

// GetStatus lets huma write the right status line.
func (e *APIError) GetStatus() int {
	return e.Status
}

// NewAPIError maps a qerr code onto its HTTP status and API code.
func NewAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	detail := qerr.Message(err)
	switch qerr.CodeOf(err) {
	case qerr.CodeAlreadyExists:
		return &APIError{Status: http.StatusBadRequest, Code: CodeJobAlreadyExists, Detail: detail}
	case qerr.CodeNotFound:
		return &APIError{Status: http.StatusNotFound, Code: CodeJobNotFound, Detail: detail}
	case qerr.CodeCannotCancel:
		return &APIError{Status: http.StatusBadRequest, Code: CodeJobCannotCancel, Detail: detail}
	case qerr.CodeAlreadyRunning:
		return &APIError{Status: http.StatusConflict, Code: CodeJobAlreadyRunning, Detail: detail}
	case qerr.CodeInvalidUpdate, qerr.CodeInvalidArgument:
		return &APIError{Status: http.StatusBadRequest, Code: CodeJobInvalidUpdate, Detail: detail}
	default:
		return &APIError{Status: http.StatusInternalServerError, Code: CodeJobExecution, Detail: detail}
	}
}
