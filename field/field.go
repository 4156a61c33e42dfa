// Package field holds named scalar fields over a set of spatial points and
// the dependency declarations expressions use to request them.
package field

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownTag is returned when a tag has not been registered in a Store
	ErrUnknownTag = errors.New("field: unknown tag")
	// ErrShapeMismatch is returned when data does not match the store's point count
	ErrShapeMismatch = errors.New("field: shape mismatch")
)

// Tag names a field
type Tag string

// TagList is an ordered list of tags
type TagList []Tag

// Strings returns the tag names
func (tl TagList) Strings() []string {
	s := make([]string, len(tl))
	for i, t := range tl {
		s[i] = string(t)
	}
	return s
}

// Field is a view over one value per spatial point
type Field []float64

// Store owns same-shaped field buffers keyed by tag
type Store struct {
	mu        sync.RWMutex
	numPoints int
	fields    map[Tag][]float64
}

// NewStore creates an empty store whose fields hold numPoints values
func NewStore(numPoints int) *Store {
	if numPoints < 0 {
		panic(fmt.Sprintf("negative point count %d", numPoints))
	}
	return &Store{
		numPoints: numPoints,
		fields:    make(map[Tag][]float64),
	}
}

// NumPoints returns the number of values in every field
func (s *Store) NumPoints() int {
	return s.numPoints
}

// Register allocates a zeroed field for tag if it does not exist yet
func (s *Store) Register(tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fields[tag]; !ok {
		s.fields[tag] = make([]float64, s.numPoints)
	}
}

// Set copies values into the field for tag, registering it if needed
func (s *Store) Set(tag Tag, values []float64) error {
	if len(values) != s.numPoints {
		return fmt.Errorf("%w: %s has %d values, store holds %d points",
			ErrShapeMismatch, tag, len(values), s.numPoints)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.fields[tag]
	if !ok {
		buf = make([]float64, s.numPoints)
		s.fields[tag] = buf
	}
	copy(buf, values)
	return nil
}

// Fill sets every value of tag to v
func (s *Store) Fill(tag Tag, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.fields[tag]
	if !ok {
		buf = make([]float64, s.numPoints)
		s.fields[tag] = buf
	}
	for i := range buf {
		buf[i] = v
	}
}

// Has reports whether tag is registered
func (s *Store) Has(tag Tag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.fields[tag]
	return ok
}

// Field returns a view of the buffer for tag. The view aliases store memory
// and must be treated as read-only by expressions that did not produce it.
func (s *Store) Field(tag Tag) (Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf, ok := s.fields[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return Field(buf), nil
}

// Fields resolves a list of tags in order
func (s *Store) Fields(tags TagList) ([]Field, error) {
	out := make([]Field, len(tags))
	for i, t := range tags {
		f, err := s.Field(t)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// Tags returns all registered tags in name order
func (s *Store) Tags() TagList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make(TagList, 0, len(s.fields))
	for t := range s.fields {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
