package dispatch

import (
	"errors"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassRateLimit represents provider throttling responses (429).
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents timeouts and connection errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassClient represents fatal 4xx rejections.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassDecode represents unparseable response bodies.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassConfig represents pre-dispatch configuration failures.
	ErrorClassConfig ErrorClass = "config"
)

// classify maps a typed error to its class for metrics and logging.
func classify(err error) ErrorClass {
	var (
		rl *llm.RateLimitError
		tn *llm.TransientNetworkError
		rr *llm.RequestRejectedError
		de *llm.DecodeError
		ce *llm.ConfigurationError
	)
	switch {
	case errors.As(err, &rl):
		return ErrorClassRateLimit
	case errors.As(err, &tn):
		if tn.StatusCode > 0 {
			return ErrorClassServer
		}
		return ErrorClassNetwork
	case errors.As(err, &rr):
		return ErrorClassClient
	case errors.As(err, &de):
		return ErrorClassDecode
	case errors.As(err, &ce):
		return ErrorClassConfig
	default:
		return ErrorClassNetwork
	}
}
