package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// SearchOptions provides options for search operations.
type SearchOptions struct {
	// Query is the free-form search text.
	Query string

	// Limit is the maximum number of results to return (default: 30, max: 100).
	Limit int
}

// Normalize applies defaults and validates the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 30
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
}

// GraphBounds prevents combinatorial explosion during neighbor expansion.
type GraphBounds struct {
	// MaxHops is the maximum number of shared-token hops from a seed item.
	MaxHops int

	// MaxNodes is the maximum number of item ids to return.
	MaxNodes int

	// Timeout is the maximum duration for the expansion.
	Timeout time.Duration
}

// Normalize applies defaults and validates the GraphBounds.
func (g *GraphBounds) Normalize() {
	if g.MaxHops < 1 {
		g.MaxHops = 1
	}
	if g.MaxHops > 2 {
		g.MaxHops = 2
	}
	if g.MaxNodes < 1 {
		g.MaxNodes = 10
	}
	if g.MaxNodes > 100 {
		g.MaxNodes = 100
	}
	if g.Timeout == 0 {
		g.Timeout = 5 * time.Second
	}
}
