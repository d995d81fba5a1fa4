// Package fallback implements an ordered-preference resolver: a list of
// same-shaped providers for one metric, tried strictly in order until one
// succeeds. List order encodes a deliberate preference (fast/accurate
// sources first, degraded ones last), so probing is sequential and
// short-circuits on the first success.
package fallback

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrNoProviders indicates Resolve was called with an empty provider list.
var ErrNoProviders = errors.New("fallback: no providers configured")

// Provider is one candidate source for a metric value.
type Provider[T any] struct {
	// Name identifies the provider in aggregated failure messages.
	Name string

	Collect func() (T, error)
}

// New is a convenience constructor for a Provider.
func New[T any](name string, collect func() (T, error)) Provider[T] {
	return Provider[T]{Name: name, Collect: collect}
}

// Resolve tries each provider in list order and returns the first
// successful value unmodified. Results from two providers are never
// combined. If every provider fails, the returned error aggregates each
// provider's name and message in trial order.
func Resolve[T any](providers []Provider[T]) (T, error) {
	var zero T
	if len(providers) == 0 {
		return zero, ErrNoProviders
	}

	var agg error
	for _, p := range providers {
		v, err := p.Collect()
		if err == nil {
			return v, nil
		}
		agg = multierr.Append(agg, fmt.Errorf("%s: %w", p.Name, err))
	}
	return zero, fmt.Errorf("fallback: all %d providers failed: %w", len(providers), agg)
}
