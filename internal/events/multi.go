package events

import (
	"errors"
	"fmt"
	"strings"
)

// MultiSource fans several sources into one handler
type MultiSource struct {
	sources []Source
}

// NewMultiSource combines sources; they are watched in order
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

// Name joins the member source names
func (m *MultiSource) Name() string {
	names := make([]string, 0, len(m.sources))
	for _, s := range m.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

// Watch starts every member. If one fails the members already started are stopped.
func (m *MultiSource) Watch(handler Handler) error {
	for i, s := range m.sources {
		if err := s.Watch(handler); err != nil {
			for _, started := range m.sources[:i] {
				started.StopWatching()
			}
			return fmt.Errorf("failed to watch %s: %w", s.Name(), err)
		}
	}
	return nil
}

// StopWatching stops every member
func (m *MultiSource) StopWatching() {
	for _, s := range m.sources {
		s.StopWatching()
	}
}

// Close closes every member and joins their errors
func (m *MultiSource) Close() error {
	var errs error
	for _, s := range m.sources {
		if err := s.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errs
}
