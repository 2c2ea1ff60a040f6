package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrConnectionRequired is returned by New when no connection name is set.
	ErrConnectionRequired = errors.New("connection is required")

	// ErrNoFetcher is returned when an operation needs a fetcher that
	// was not configured.
	ErrNoFetcher = errors.New("no fetcher configured")
)

// ErrorClass classifies a fetch failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx backend errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx backend errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// FetchError represents a failed backend fetch with additional context.
type FetchError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.Class(), e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.Class(), e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Class classifies the error by status code. Errors without a status
// code count as network failures.
func (e *FetchError) Class() ErrorClass {
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return ErrorClassClient
	case e.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassNetwork
	}
}

// Transient reports whether retrying the fetch can help. Client errors
// are permanent, server and network failures are worth another try.
func (e *FetchError) Transient() bool {
	return e.Class() != ErrorClassClient
}
