// Package pulsar is the in-process render engine: rotating line-segment
// sprites on a character grid. It backs engine-class games without
// spawning an external bridge process.
package pulsar

import (
	"fmt"
	"math"
	"time"

	"github.com/study-groups/quasar/internal/domain"
)

const maxSpritesPerSlot = 64

type sprite struct {
	domain.Sprite
	theta float64
}

type grid struct {
	cols, rows int
	sprites    []*sprite
}

// Engine implements domain.SlotEngine. All methods run on the slot
// manager goroutine; the engine is not safe for concurrent use.
type Engine struct {
	grids map[int]*grid
}

func NewEngine() *Engine {
	return &Engine{grids: make(map[int]*grid)}
}

func (e *Engine) Init(index, cols, rows int) error {
	if cols < 1 || rows < 1 {
		return fmt.Errorf("invalid grid size %dx%d", cols, rows)
	}
	if _, exists := e.grids[index]; exists {
		return fmt.Errorf("slot %d already has a context", index)
	}
	e.grids[index] = &grid{cols: cols, rows: rows}
	return nil
}

func (e *Engine) Step(index int, elapsed time.Duration) {
	g, ok := e.grids[index]
	if !ok {
		return
	}
	dt := elapsed.Seconds()
	for _, s := range g.sprites {
		s.theta += s.DTheta * dt
	}
}

func (e *Engine) Render(index int) ([]string, error) {
	g, ok := e.grids[index]
	if !ok {
		return nil, fmt.Errorf("slot %d has no context", index)
	}

	cells := make([][]byte, g.rows)
	for y := range cells {
		row := make([]byte, g.cols)
		for x := range row {
			row[x] = ' '
		}
		cells[y] = row
	}

	for _, s := range g.sprites {
		g.draw(cells, s)
	}

	lines := make([]string, g.rows)
	for y, row := range cells {
		lines[y] = string(row)
	}
	return lines, nil
}

// draw plots a line segment of Len0 cells from the sprite's anchor at the
// current rotation angle. Positive valence renders '*', negative '#', and
// the segment tip is always '@'.
func (g *grid) draw(cells [][]byte, s *sprite) {
	glyph := byte('*')
	if s.Valence < 0 {
		glyph = '#'
	}
	for k := 0; k < s.Len0; k++ {
		x := s.X + int(math.Round(float64(k)*math.Cos(s.theta)))
		y := s.Y + int(math.Round(float64(k)*math.Sin(s.theta)))
		if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
			continue
		}
		if k == s.Len0-1 {
			cells[y][x] = '@'
		} else {
			cells[y][x] = glyph
		}
	}
}

func (e *Engine) Spawn(index int, sp domain.Sprite) error {
	g, ok := e.grids[index]
	if !ok {
		return fmt.Errorf("slot %d has no context", index)
	}
	if len(g.sprites) >= maxSpritesPerSlot {
		return fmt.Errorf("sprite table full for slot %d", index)
	}
	g.sprites = append(g.sprites, &sprite{Sprite: sp})
	return nil
}

func (e *Engine) Destroy(index int) {
	delete(e.grids, index)
}
