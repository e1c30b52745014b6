package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrGraphNotFound is returned when a deployment names a graph that was
	// never registered.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrNotDeployed is returned when tearing down a graph with no live adapters.
	ErrNotDeployed = errors.New("graph not deployed")

	// ErrVersionConflict is returned when a graph is already live at a
	// different version than the one requested.
	ErrVersionConflict = errors.New("graph is deployed at another version")
)

// ConfigError reports an adapter that cannot be built or initialized from
// its declaration. It is never retried.
type ConfigError struct {
	Adapter string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Adapter, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
