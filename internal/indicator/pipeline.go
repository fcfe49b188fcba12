package indicator

import (
	"fmt"
	"math"

	"barrun/internal/domain"
)

// Transform computes one named series from the full bar sequence. It must be
// causal.
type Transform func(bars []domain.Bar) Series

// Pipeline is an ordered set of named transforms.
type Pipeline struct {
	names      []string
	transforms map[string]Transform
}

// NewPipeline creates an empty Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{transforms: make(map[string]Transform)}
}

// Register adds a transform under name, replacing any previous one.
func (p *Pipeline) Register(name string, fn Transform) {
	if _, ok := p.transforms[name]; !ok {
		p.names = append(p.names, name)
	}
	p.transforms[name] = fn
}

// Names returns the registered names in registration order.
func (p *Pipeline) Names() []string {
	return append([]string(nil), p.names...)
}

// Compute evaluates every transform over bars.
func (p *Pipeline) Compute(bars []domain.Bar) (*Frame, error) {
	f := &Frame{n: len(bars), series: make(map[string]Series, len(p.names))}
	for _, name := range p.names {
		s := p.transforms[name](bars)
		if len(s) != len(bars) {
			return nil, fmt.Errorf("indicator %s: got %d values for %d bars", name, len(s), len(bars))
		}
		f.series[name] = s
	}
	return f, nil
}

// Frame holds computed series aligned with a bar sequence.
type Frame struct {
	n      int
	series map[string]Series
}

// Len returns the number of bars the frame covers.
func (f *Frame) Len() int { return f.n }

// Series returns the full series for name.
func (f *Frame) Series(name string) (Series, bool) {
	s, ok := f.series[name]
	return s, ok
}

// At returns a read-only view of every series at bar i. Negative or
// out-of-range indices yield a snapshot in which nothing is defined.
func (f *Frame) At(i int) Snapshot {
	return Snapshot{frame: f, index: i}
}

// Snapshot is the value of every indicator at one bar.
type Snapshot struct {
	frame *Frame
	index int
}

// Index returns the bar index of the snapshot.
func (s Snapshot) Index() int { return s.index }

// Get returns the value of name and whether it is defined.
func (s Snapshot) Get(name string) (float64, bool) {
	if s.frame == nil {
		return math.NaN(), false
	}
	series, ok := s.frame.series[name]
	if !ok {
		return math.NaN(), false
	}
	return series.At(s.index)
}

// Value returns the value of name, NaN when undefined.
func (s Snapshot) Value(name string) float64 {
	v, _ := s.Get(name)
	return v
}

// Defined reports whether every name is defined, returning the first
// undefined one otherwise.
func (s Snapshot) Defined(names ...string) (string, bool) {
	for _, n := range names {
		if _, ok := s.Get(n); !ok {
			return n, false
		}
	}
	return "", true
}
