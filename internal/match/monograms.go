package match

import (
	"fmt"
	"math/rand"
	"sync"
)

const monogramAttempts = 64

// Monograms implements domain.MonogramService: every viewer gets a short
// three-letter tag for the lifetime of its connection, unique among the
// currently connected viewers.
type Monograms struct {
	mu       sync.Mutex
	byViewer map[string]string
	taken    map[string]bool
}

func NewMonograms() *Monograms {
	return &Monograms{
		byViewer: make(map[string]string),
		taken:    make(map[string]bool),
	}
}

// Assign picks an unused monogram for the viewer. Idempotent per viewer
// id. With 17k+ combinations collisions only matter at absurd viewer
// counts; after monogramAttempts random tries a numbered fallback keeps
// the result unique anyway.
func (m *Monograms) Assign(viewerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tag, ok := m.byViewer[viewerID]; ok {
		return tag
	}

	tag := ""
	for i := 0; i < monogramAttempts; i++ {
		candidate := randomMonogram()
		if !m.taken[candidate] {
			tag = candidate
			break
		}
	}
	if tag == "" {
		tag = fmt.Sprintf("V%02d", len(m.byViewer)%100)
	}

	m.byViewer[viewerID] = tag
	m.taken[tag] = true
	return tag
}

// Release returns the viewer's monogram to the pool.
func (m *Monograms) Release(viewerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tag, ok := m.byViewer[viewerID]; ok {
		delete(m.byViewer, viewerID)
		delete(m.taken, tag)
	}
}

func randomMonogram() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = byte('A' + rand.Intn(26))
	}
	return string(b)
}
