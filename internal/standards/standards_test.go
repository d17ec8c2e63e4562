package standards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaterDensityExactTableValues(t *testing.T) {
	assert.InDelta(t, 0.99820, WaterDensity(20), 1e-6)
	assert.InDelta(t, 0.99970, WaterDensity(10), 1e-6)
}

func TestWaterDensityInterpolates(t *testing.T) {
	d := WaterDensity(20.5)
	assert.Greater(t, d, 0.99799) // between density(21) and density(20)
	assert.Less(t, d, 0.99820)
}

func TestWaterDensityClampsToRange(t *testing.T) {
	assert.Equal(t, WaterDensity(4), WaterDensity(-10))
	assert.Equal(t, WaterDensity(40), WaterDensity(100))
}

func TestCalculateErrorAndCheckPass(t *testing.T) {
	errPct := CalculateError(2.0, 2.03)
	assert.InDelta(t, 1.5, errPct, 0.001)
	assert.True(t, CheckPass(errPct, 5.0))
	assert.False(t, CheckPass(errPct, 1.0))
}

func TestCalculateErrorZeroReference(t *testing.T) {
	assert.Equal(t, 0.0, CalculateError(0, 5))
}

func TestQPointsForDN15ClassB(t *testing.T) {
	qp, ok := QPointByName("DN15", "B", "Q1")
	require.True(t, ok)
	assert.Equal(t, 10.0, qp.FlowRateLPerH)
	assert.Equal(t, 1.0, qp.TestVolumeL)
	assert.Equal(t, 5.0, qp.MPEPct)
	assert.Equal(t, ZoneLower, qp.Zone)

	all := QPointsFor("DN15", "B")
	require.Len(t, all, 8)
}

func TestQPointsForUnknownCombinationReturnsEmpty(t *testing.T) {
	_, ok := QPointByName("DN99", "Z", "Q1")
	assert.False(t, ok)
}

func TestQPointsForEveryMandatedClass(t *testing.T) {
	for _, size := range []string{"DN15", "DN20", "DN25"} {
		for _, class := range []string{"A", "B", "C", "R80", "R100", "R160", "R200"} {
			all := QPointsFor(size, class)
			require.Lenf(t, all, 8, "%s/%s should have all 8 Q-points seeded", size, class)
		}
	}
}

func TestQPointsForDN20RClasses(t *testing.T) {
	qp, ok := QPointByName("DN20", "R160", "Q3")
	require.True(t, ok)
	assert.Equal(t, 200.0, qp.FlowRateLPerH)
	assert.Equal(t, ZoneUpper, qp.Zone)
}
