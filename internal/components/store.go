package components

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"arduinohub/pkg/models"
)

var (
	ErrNotFound        = errors.New("component not found")
	ErrInvalidQuantity = errors.New("quantity must be an integer >= 0")
	ErrInvalidName     = errors.New("name must not be empty")
	ErrUnknownField    = errors.New("field must be one of: name, quantity")
)

// Field names accepted by Update.
const (
	FieldName     = "name"
	FieldQuantity = "quantity"
)

// Store is the ordered, in-memory list of components for one session.
// Insertion order is kept because it drives the prompt text.
type Store struct {
	mu     sync.RWMutex
	items  []models.DetectedComponent
	nextID int
}

func NewStore() *Store {
	return &Store{nextID: 1}
}

// ReplaceAll discards the current contents and installs list as-is.
// Ids in list must be distinct; the counter is raised past the largest one
// so later Adds cannot collide with them.
func (s *Store) ReplaceAll(list []models.DetectedComponent) error {
	seen := make(map[int]struct{}, len(list))
	for _, c := range list {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("replace components: duplicate id %d", c.ID)
		}
		if c.Quantity < 0 {
			return fmt.Errorf("replace components: id %d: %w", c.ID, ErrInvalidQuantity)
		}
		seen[c.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items[:0:0], list...)
	for _, c := range list {
		if c.ID >= s.nextID {
			s.nextID = c.ID + 1
		}
	}
	return nil
}

// Add appends a component with a fresh id from the monotonic counter.
func (s *Store) Add(name string, quantity int) (models.DetectedComponent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.DetectedComponent{}, ErrInvalidName
	}
	if quantity < 0 {
		return models.DetectedComponent{}, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.DetectedComponent{ID: s.nextID, Name: name, Quantity: quantity}
	s.nextID++
	s.items = append(s.items, c)
	return c, nil
}

// Update sets field on the component with the given id. value is the raw
// user input; a rejected value leaves the store unchanged.
func (s *Store) Update(id int, field, value string) (models.DetectedComponent, error) {
	var (
		name     string
		quantity int
	)
	switch field {
	case FieldName:
		name = strings.TrimSpace(value)
		if name == "" {
			return models.DetectedComponent{}, ErrInvalidName
		}
	case FieldQuantity:
		q, err := ParseQuantity(value)
		if err != nil {
			return models.DetectedComponent{}, err
		}
		quantity = q
	default:
		return models.DetectedComponent{}, ErrUnknownField
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.DetectedComponent{}, ErrNotFound
	}
	if field == FieldName {
		s.items[i].Name = name
	} else {
		s.items[i].Quantity = quantity
	}
	return s.items[i], nil
}

// Remove deletes the component with id. It reports whether anything was removed.
func (s *Store) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Store) Get(id int) (models.DetectedComponent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.items[i], true
	}
	return models.DetectedComponent{}, false
}

// List returns a copy in insertion order.
func (s *Store) List() []models.DetectedComponent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DetectedComponent{}, s.items...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) indexLocked(id int) int {
	for i, c := range s.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// ParseQuantity accepts a base-10 integer >= 0 and nothing else.
func ParseQuantity(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return 0, ErrInvalidQuantity
	}
	return n, nil
}
