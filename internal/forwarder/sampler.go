package forwarder

import "fmt"

// Sampler holds the Interaction Counter and decides which cursor events are forwarded.
//
// The counter is incremented before the check, so with an interval of 25 the
// 25th, 50th, ... cursor events are forwarded and the first 24 are not.
// Sampler is not safe for concurrent use; the forwarder loop owns it.
type Sampler struct {
	interval uint64
	count    uint64
}

// NewSampler returns a sampler with a fixed interval of at least 1
func NewSampler(interval int) (*Sampler, error) {
	if interval < 1 {
		return nil, fmt.Errorf("sampling interval must be at least 1, got %d", interval)
	}
	return &Sampler{interval: uint64(interval)}, nil
}

// Next counts one cursor event and reports whether it should be forwarded
func (s *Sampler) Next() bool {
	s.count++
	return s.count%s.interval == 0
}

// Count returns the number of cursor events seen so far
func (s *Sampler) Count() uint64 {
	return s.count
}

// Interval returns the sampling interval
func (s *Sampler) Interval() int {
	return int(s.interval)
}
