package services

import (
	"math/rand/v2"
	"sync"
)

// Palette is the fixed set of colors assigned to categories created without one.
var Palette = []string{
	"#FF6B6B", // red
	"#48D1CC", // teal
	"#76C75F", // green
	"#FFA500", // orange
	"#9370DB", // purple
	"#FFD700", // gold
	"#1E90FF", // dodgerblue
	"#FF69B4", // hotpink
}

// ColorPicker draws palette colors uniformly at random. Safe for concurrent use.
type ColorPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewColorPicker returns a picker whose sequence is fully determined by seed.
func NewColorPicker(seed uint64) *ColorPicker {
	return &ColorPicker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomColorPicker returns a picker seeded from the runtime's random source.
func NewRandomColorPicker() *ColorPicker {
	return NewColorPicker(rand.Uint64())
}

func (p *ColorPicker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Palette[p.rng.IntN(len(Palette))]
}
