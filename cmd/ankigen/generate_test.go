package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbecker/ankigen/internal/gateway"
)

func TestDescribeUnits(t *testing.T) {
	single := gateway.CallContext{Unit: 4, UnitEnd: 4}
	assert.Equal(t, "slide 4", describeUnits(single))

	batched := gateway.CallContext{Unit: 3, UnitEnd: 5}
	assert.Equal(t, "slides 3-5", describeUnits(batched))

	// An unset end means the call covers a single slide.
	unset := gateway.CallContext{Unit: 7}
	assert.Equal(t, "slide 7", describeUnits(unset))
}
