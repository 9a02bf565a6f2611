package session

import (
	"strings"
	"sync"
)

// Hostname holds the device hostname. Setting the current value again is a
// no-op; an empty value never clears it.
type Hostname struct {
	mu    sync.Mutex
	value string
	set   bool
}

// Set stores name and reports whether the displayed value changed.
func (h *Hostname) Set(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.set && h.value == name {
		return false
	}
	h.value = name
	h.set = true
	return true
}

// Get returns the hostname and whether one was ever reported.
func (h *Hostname) Get() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.set
}
