// Package favorites keeps each visitor's list of favorite car ids.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/neorise/storefront/internal/car"
)

// DefaultRedisPrefix namespaces favorites in a shared Redis.
const DefaultRedisPrefix = "storefront:favorites:"

// ErrOwnerRequired is returned when no visitor id is supplied.
var ErrOwnerRequired = errors.New("favorites owner is required")

type entry struct {
	raw    string
	parsed []string
}

// Store reads and writes favorites through a KV. Parsed lists are cached per
// owner and re-parsed only when the stored raw value changes.
type Store struct {
	kv KV

	mu     sync.Mutex
	cache  map[string]entry
	subs   map[int]func(owner string, ids []string)
	nextID int
}

// NewStore builds a Store over kv.
func NewStore(kv KV) *Store {
	return &Store{
		kv:    kv,
		cache: make(map[string]entry),
		subs:  make(map[int]func(string, []string)),
	}
}

// Get returns owner's favorites. Malformed stored data reads as empty.
func (s *Store) Get(ctx context.Context, owner string) ([]string, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	raw, _, err := s.kv.Get(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.cache[owner]; ok && e.raw == raw {
		return slices.Clone(e.parsed), nil
	}
	parsed := parse(raw)
	s.cache[owner] = entry{raw: raw, parsed: parsed}
	return slices.Clone(parsed), nil
}

// Set replaces owner's favorites with ids, dropping blanks and duplicates
// while keeping first-seen order. Subscribers are notified before Set returns.
func (s *Store) Set(ctx context.Context, owner string, ids []string) ([]string, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	next := dedupe(ids)
	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode favorites: %w", err)
	}
	if err := s.kv.Set(ctx, owner, string(raw)); err != nil {
		return nil, fmt.Errorf("save favorites: %w", err)
	}

	s.mu.Lock()
	s.cache[owner] = entry{raw: string(raw), parsed: next}
	subs := make([]func(string, []string), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(owner, slices.Clone(next))
	}
	return slices.Clone(next), nil
}

// Toggle adds carID when absent and removes it when present. It returns
// whether carID is a favorite afterwards.
func (s *Store) Toggle(ctx context.Context, owner, carID string) (bool, error) {
	carID = strings.TrimSpace(carID)
	if carID == "" {
		return false, car.Invalid(car.ColCarID, "car id is required")
	}
	current, err := s.Get(ctx, owner)
	if err != nil {
		return false, err
	}
	if slices.Contains(current, carID) {
		_, err = s.Set(ctx, owner, slices.DeleteFunc(current, func(id string) bool { return id == carID }))
		return false, err
	}
	_, err = s.Set(ctx, owner, append(current, carID))
	return err == nil, err
}

// IsFavorite reports whether carID is among owner's favorites.
func (s *Store) IsFavorite(ctx context.Context, owner, carID string) (bool, error) {
	ids, err := s.Get(ctx, owner)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, carID), nil
}

// Subscribe registers fn for every successful Set and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(owner string, ids []string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func parse(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
