package attachment

import (
	"sparkchat/backend/internal/clock"
	"sparkchat/backend/internal/config"
	"sync"
)

// Progress is the 0–100 indicator of one upload. Only Complete reaches 100;
// everything before that is capped at 99 and never moves backwards.
type Progress struct {
	mu       sync.Mutex
	value    int
	done     bool
	onChange func(int)
}

func NewProgress(onChange func(int)) *Progress {
	return &Progress{onChange: onChange}
}

// Set raises the value to pct, clamped to 99.
func (p *Progress) Set(pct int) {
	if pct > 99 {
		pct = 99
	}
	p.mu.Lock()
	if p.done || pct <= p.value {
		p.mu.Unlock()
		return
	}
	p.value = pct
	p.mu.Unlock()
	p.notify(pct)
}

// Bytes converts byte progress into a percentage.
func (p *Progress) Bytes(written, total int64) {
	if total <= 0 {
		return
	}
	p.Set(int(written * 100 / total))
}

func (p *Progress) Complete() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.value = 100
	p.mu.Unlock()
	p.notify(100)
}

func (p *Progress) Value() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *Progress) notify(v int) {
	if p.onChange != nil {
		p.onChange(v)
	}
}

// StartSynthetic advances the indicator on a timer for stores without native
// progress. It stops on its own at config.SyntheticProgressLimit; the returned
// func stops it early.
func (p *Progress) StartSynthetic(clk clock.Clock) func() {
	s := &synthetic{p: p, clk: clk}
	s.schedule()
	return s.stop
}

type synthetic struct {
	p       *Progress
	clk     clock.Clock
	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
	value   int
}

func (s *synthetic) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timer = s.clk.AfterFunc(config.SyntheticProgressTick, s.tick)
}

func (s *synthetic) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.value += config.SyntheticProgressStep
	if s.value > config.SyntheticProgressLimit {
		s.value = config.SyntheticProgressLimit
	}
	v := s.value
	s.mu.Unlock()

	s.p.Set(v)
	if v < config.SyntheticProgressLimit {
		s.schedule()
	}
}

func (s *synthetic) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
}
