package pchk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDimOutput(t *testing.T) {
	assert.Equal(t, "A1DI050000", DimOutput(0, 50, 0))
	assert.Equal(t, "A2DI100004", DimOutput(1, 100, 4))
	assert.Equal(t, "O1DI101000", DimOutput(0, 50.5, 0), "half steps use the 200-step form")
}

func TestControlRelays(t *testing.T) {
	assert.Equal(t, "R81-------", ControlRelay(0, true))
	assert.Equal(t, "R8--0-----", ControlRelay(2, false))
	assert.Equal(t, "R8--------", ControlRelays([8]RelayState{}))
	assert.Equal(t, "R8U100----", ControlRelays([8]RelayState{RelayToggle, RelayOn, RelayOff, RelayOff}))
}

func TestStatusRequests(t *testing.T) {
	assert.Equal(t, "SMA1", RequestOutputStatus(0))
	assert.Equal(t, "SMR", RequestRelaysStatus())
	assert.Equal(t, "NMN2", RequestName(1))
	assert.Equal(t, ">G003003.SK", SegmentCouplerScan())
	assert.Equal(t, "!OM1P", SetOperationMode(DimSteps200))
	assert.Equal(t, "!OM0P", SetOperationMode(DimSteps50))
	assert.Equal(t, "^ping3", Ping(3))

	pck, err := OutputStatusItem(1).pck()
	assert.NoError(t, err)
	assert.Equal(t, "SMA2", pck)

	_, err = StatusItem("OUTPUT9").pck()
	assert.Error(t, err)
}

func TestTimeToRampValue(t *testing.T) {
	tests := []struct {
		ms   int
		want int
	}{
		{0, 0},
		{249, 0},
		{250, 1},
		{500, 2},
		{660, 3},
		{1000, 4},
		{1400, 5},
		{2000, 6},
		{3000, 7},
		{4000, 8},
		{5000, 9},
		{6000, 10},
		{8000, 11},
		{10000, 12},
		{486000, 250},
		{10_000_000, 250},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeToRampValue(tt.ms), "TimeToRampValue(%d)", tt.ms)
	}
}
