package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryUpstream         ErrorCategory = "upstream_unavailable"
	ErrorCategoryBadResponse      ErrorCategory = "bad_response"
	ErrorCategoryUnknownParameter ErrorCategory = "unknown_parameter"
	ErrorCategoryCache            ErrorCategory = "cache"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	if errors.Is(err, models.ErrUnknownParameter) {
		return ErrorCategoryUnknownParameter
	}
	if errors.Is(err, ErrUnexpectedResponse) {
		return ErrorCategoryBadResponse
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return ErrorCategoryUpstream
	}
	if strings.Contains(errStr, "cache") {
		return ErrorCategoryCache
	}
	return ErrorCategoryUnknown
}
