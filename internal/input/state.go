// Package input tracks held movement keys and derives a direction from them.
package input

import (
	"strings"
	"sync"
)

// Key is a logical movement key.
type Key uint8

const (
	KeyNone Key = iota
	KeyUp
	KeyLeft
	KeyDown
	KeyRight
)

var keyNames = map[Key]string{
	KeyUp:    "up",
	KeyLeft:  "left",
	KeyDown:  "down",
	KeyRight: "right",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return "none"
}

// Valid reports whether k is one of the four movement keys.
func (k Key) Valid() bool {
	return k >= KeyUp && k <= KeyRight
}

// ParseKey maps a physical key name onto a movement key, case-insensitively.
func ParseKey(name string) (Key, bool) {
	switch strings.ToLower(name) {
	case "w":
		return KeyUp, true
	case "a":
		return KeyLeft, true
	case "s":
		return KeyDown, true
	case "d":
		return KeyRight, true
	default:
		return KeyNone, false
	}
}

// State records which movement keys are held. Key events and the simulation
// tick may run on different goroutines.
type State struct {
	mu   sync.RWMutex
	held [KeyRight + 1]bool
}

func NewState() *State {
	return &State{}
}

// SetKey records a key transition; unknown keys are ignored.
func (s *State) SetKey(key Key, pressed bool) {
	if !key.Valid() {
		return
	}
	s.mu.Lock()
	s.held[key] = pressed
	s.mu.Unlock()
}

// Pressed reports whether key is currently held.
func (s *State) Pressed(key Key) bool {
	if !key.Valid() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held[key]
}

// Vector derives the movement direction; opposing keys cancel out.
func (s *State) Vector() (dx, dy int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return b2i(s.held[KeyRight]) - b2i(s.held[KeyLeft]), b2i(s.held[KeyDown]) - b2i(s.held[KeyUp])
}

// Held lists the held keys in up, left, down, right order.
func (s *State) Held() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []Key
	for key := KeyUp; key <= KeyRight; key++ {
		if s.held[key] {
			keys = append(keys, key)
		}
	}
	return keys
}

// Reset releases every key.
func (s *State) Reset() {
	s.mu.Lock()
	s.held = [KeyRight + 1]bool{}
	s.mu.Unlock()
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
