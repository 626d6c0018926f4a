package utils

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecimalCounter(t *testing.T) {
	c := NewDecimalCounter(0)
	assert.Equal(t, "0", c.String())

	for i := uint64(1); i < 2000; i++ {
		c.Inc()
		assert.Equal(t, strconv.FormatUint(i, 10), c.String())
	}
}

func TestDecimalCounterStart(t *testing.T) {
	c := NewDecimalCounter(998)
	assert.Equal(t, "998", c.String())
	c.Inc()
	assert.Equal(t, "999", c.String())
	c.Inc()
	assert.Equal(t, "1000", c.String())
}

func TestDecimalCounterCopyIsIndependent(t *testing.T) {
	c := NewDecimalCounter(99)
	snapshot := c
	c.Inc()
	assert.Equal(t, "99", snapshot.String())
	assert.Equal(t, "100", c.String())
}

func TestDecimalCounterWideValues(t *testing.T) {
	c := NewDecimalCounter(18446744073709551614)
	assert.Equal(t, "18446744073709551614", c.String())
	c.Inc()
	assert.Equal(t, "18446744073709551615", c.String())
}
