// Package store persists the last known event list of each category.
//
// A store holds one blob per namespace. Writes replace the whole list
// atomically so a reader sees either the previous or the new list.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"kpopcal/internal/model"
)

// ErrNotFound is returned by Read when nothing has been written for a
// namespace yet (or it was cleared).
var ErrNotFound = errors.New("store: not found")

// ParseError reports a persisted blob that is not a valid event list.
type ParseError struct {
	Namespace string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("store: corrupt cache for %q: %v", e.Namespace, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store is the persistent cache used by the refresh policy.
type Store interface {
	Exists(ctx context.Context, namespace string) (bool, error)
	Read(ctx context.Context, namespace string) ([]model.Event, error)
	Write(ctx context.Context, namespace string, events []model.Event) error
	Clear(ctx context.Context, namespace string) error
	Close() error
}

var namespaceRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func validateNamespace(ns string) error {
	if !namespaceRe.MatchString(ns) {
		return fmt.Errorf("store: invalid namespace %q", ns)
	}
	return nil
}

func encode(events []model.Event) ([]byte, error) {
	if events == nil {
		events = []model.Event{}
	}
	return json.Marshal(events)
}

func decode(namespace string, data []byte) ([]model.Event, error) {
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, &ParseError{Namespace: namespace, Err: err}
	}
	if events == nil {
		// "null" is valid JSON but not a list we wrote.
		return nil, &ParseError{Namespace: namespace, Err: errors.New("payload is not an array")}
	}
	return events, nil
}
