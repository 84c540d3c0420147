package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInLane(t *testing.T) {

	tests := []struct {
		name     string
		x1, x2   float64
		width    float64
		expected bool
	}{
		{"cow centered", 600, 680, 1280, true},
		{"dog far left", 80, 120, 1280, false},
		{"left boundary", 300, 340, 1280, true},
		{"right boundary", 940, 980, 1280, true},
		{"just left of lane", 300, 339, 1280, false},
		{"just right of lane", 941, 980, 1280, false},
		{"wide box centered", 0, 1280, 1280, true},
		{"odd width", 159, 161, 641, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, InLane(tc.x1, tc.x2, tc.width))
		})
	}
}
