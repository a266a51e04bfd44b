package attachment

import (
	"sparkchat/backend/internal/clock"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgress_CappedUntilComplete(t *testing.T) {
	p := NewProgress(nil)

	p.Set(40)
	p.Set(30)
	assert.Equal(t, 40, p.Value(), "never moves backwards")

	p.Bytes(1000, 1000)
	assert.Equal(t, 99, p.Value())

	p.Complete()
	assert.Equal(t, 100, p.Value())

	p.Set(10)
	assert.Equal(t, 100, p.Value())
}

func TestProgress_SyntheticStopsAtLimit(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := NewProgress(nil)

	stop := p.StartSynthetic(clk)
	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, 7, p.Value())

	clk.Advance(time.Minute)
	assert.Equal(t, 90, p.Value())
	assert.Equal(t, 0, clk.Pending())
	stop()
}

func TestProgress_SyntheticStop(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	p := NewProgress(nil)

	stop := p.StartSynthetic(clk)
	clk.Advance(400 * time.Millisecond)
	stop()
	clk.Advance(time.Minute)
	assert.Equal(t, 14, p.Value())
	assert.Equal(t, 0, clk.Pending())
}
