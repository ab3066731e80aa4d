package httpdto

import sentinal_errors "sentinal-realtime/pkg/errors"

// CodeUnhealthy marks a /health response with at least one failing dependency.
const CodeUnhealthy = "UNHEALTHY"

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse builds the body for err from its public message and code.
func NewErrorResponse(err error) Response[any] {
	return Response[any]{
		Success: false,
		Error:   sentinal_errors.PublicMessage(err),
		Code:    sentinal_errors.Code(err),
	}
}

// HealthStatus maps a dependency name to "ok" or its failure.
type HealthStatus map[string]string

// NewHealthResponse reports per-dependency status; the response is a failure
// when any dependency is not ok.
func NewHealthResponse(status HealthStatus) Response[HealthStatus] {
	for _, v := range status {
		if v != "ok" {
			return Response[HealthStatus]{Success: false, Data: status, Error: "unhealthy", Code: CodeUnhealthy}
		}
	}
	return NewSuccessResponse(status)
}
