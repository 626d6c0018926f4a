package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntParameterValidation(t *testing.T) {
	p := NewIntParameter("testIntParam", 5, 1, 10)

	assert.NoError(t, p.Set(7))
	assert.EqualValues(t, 7, p.Load())

	// Out of range leaves the prior value intact.
	err := p.Set(11)
	assert.ErrorIs(t, err, ErrBadValue)
	assert.EqualValues(t, 7, p.Load())

	err = p.Set(0)
	assert.ErrorIs(t, err, ErrBadValue)
	assert.EqualValues(t, 7, p.Load())

	// Wrong type rejected.
	err = p.Set("nope")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.EqualValues(t, 7, p.Load())

	// Fractional numbers rejected.
	err = p.Set(3.5)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.EqualValues(t, 7, p.Load())

	// Whole-number floats accepted (wire numbers arrive as float64).
	assert.NoError(t, p.Set(3.0))
	assert.EqualValues(t, 3, p.Load())
}

func TestIntParameterFromString(t *testing.T) {
	p := NewIntParameter("testIntStrParam", 5, 1, 10)

	assert.NoError(t, p.SetFromString("9"))
	assert.EqualValues(t, 9, p.Load())

	assert.ErrorIs(t, p.SetFromString("abc"), ErrBadValue)
	assert.ErrorIs(t, p.SetFromString("99"), ErrBadValue)
	assert.EqualValues(t, 9, p.Load())
}

func TestBoolParameter(t *testing.T) {
	p := NewBoolParameter("testBoolParam", false)

	assert.NoError(t, p.Set(true))
	assert.True(t, p.Load())

	assert.ErrorIs(t, p.Set(1), ErrTypeMismatch)
	assert.True(t, p.Load())

	assert.NoError(t, p.SetFromString("false"))
	assert.False(t, p.Load())
	assert.ErrorIs(t, p.SetFromString("yes"), ErrBadValue)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("configQueryCoalescerMaxWaiters")
	require.NoError(t, err)
	assert.Equal(t, "configQueryCoalescerMaxWaiters", p.Name())

	_, err = Lookup("noSuchParameter")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestCoalescerParameterRanges(t *testing.T) {
	assert.ErrorIs(t, CoalescerWindowMS.Set(0), ErrBadValue)
	assert.ErrorIs(t, CoalescerWindowMS.Set(1001), ErrBadValue)
	assert.ErrorIs(t, CoalescerMaxWaitMS.Set(9), ErrBadValue)
	assert.ErrorIs(t, CoalescerMaxWaiters.Set(100001), ErrBadValue)
	assert.ErrorIs(t, CoalescerMaxVersionGap.Set(0), ErrBadValue)
}
