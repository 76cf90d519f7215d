package clock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManual_AdvanceAndSet(t *testing.T) {
	clk := NewManual(1000)
	assert.Equal(t, int64(1000), clk.NowMillis())

	clk.Advance(500)
	assert.Equal(t, int64(1500), clk.NowMillis())

	clk.Set(42)
	assert.Equal(t, int64(42), clk.NowMillis())
}

func TestSystem_Monotonicish(t *testing.T) {
	clk := System{}
	first := clk.NowMillis()
	second := clk.NowMillis()
	assert.GreaterOrEqual(t, second, first)
	assert.Greater(t, first, int64(0))
}

func TestCorrelationID(t *testing.T) {
	clk := NewManual(123456)
	id := CorrelationID(clk)

	assert.True(t, strings.HasPrefix(id, "123456-"), "id %q should carry the timestamp prefix", id)
	assert.Len(t, strings.TrimPrefix(id, "123456-"), 8)

	other := CorrelationID(clk)
	assert.NotEqual(t, id, other)
}
