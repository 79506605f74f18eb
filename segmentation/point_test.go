package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint("12.5, 40")
	require.NoError(t, err)
	assert.Equal(t, Point{X: 12.5, Y: 40, Label: Positive}, p)

	p, err = ParsePoint("3,4,-")
	require.NoError(t, err)
	assert.Equal(t, Negative, p.Label)

	for _, bad := range []string{"", "1", "1,2,3,4", "a,2", "1,-2", "1,2,maybe"} {
		_, err := ParsePoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePointsKeepsOrder(t *testing.T) {
	points, err := ParsePoints([]string{"1,1", "2,2,0", "3,3,+"})
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, []Label{Positive, Negative, Positive}, []Label{points[0].Label, points[1].Label, points[2].Label})
	assert.Equal(t, 3.0, points[2].X)
}
