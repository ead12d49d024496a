package flash

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/faults"
)

func TestSelectDecisionTable(t *testing.T) {
	cases := []struct {
		facing  camera.Facing
		dark    bool
		focused bool
		want    Strategy
	}{
		{camera.FacingBack, true, true, Torch},
		{camera.FacingBack, true, false, None},
		{camera.FacingBack, false, false, None},
		{camera.FacingBack, false, true, None},
		{camera.FacingFront, true, true, ScreenFlash},
		{camera.FacingFront, false, true, None},
		{camera.FacingFront, false, false, None},
		{camera.FacingFront, true, false, None},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("%s/dark=%v/focused=%v", tc.facing, tc.dark, tc.focused)
		assert.Equal(t, tc.want, Select(tc.facing, tc.dark, tc.focused), name)
	}
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "torch", Torch.String())
	assert.Equal(t, "screen-flash", ScreenFlash.String())
}

type fakeBrightness struct {
	level  float64
	sets   []float64
	getErr error
	setErr error
}

func (f *fakeBrightness) Get() (float64, error) {
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.level, nil
}

func (f *fakeBrightness) Set(level float64) error {
	f.sets = append(f.sets, level)
	if f.setErr != nil {
		return f.setErr
	}
	f.level = level
	return nil
}

type fakeOverlay struct{ shown, hidden int }

func (o *fakeOverlay) Show() { o.shown++ }
func (o *fakeOverlay) Hide() { o.hidden++ }

func TestEngageRestoreRoundTrip(t *testing.T) {
	b := &fakeBrightness{level: 0.4}
	o := &fakeOverlay{}
	c := NewController(b, o)

	require.NoError(t, c.Engage())
	assert.True(t, c.Engaged())
	assert.Equal(t, 1.0, b.level)
	prior, ok := c.Prior()
	assert.True(t, ok)
	assert.Equal(t, 0.4, prior)
	assert.Equal(t, 1, o.shown)

	require.NoError(t, c.Restore())
	assert.False(t, c.Engaged())
	assert.Equal(t, 0.4, b.level)
	assert.Equal(t, 1, o.hidden)
}

func TestEngageIsIdempotent(t *testing.T) {
	b := &fakeBrightness{level: 0.3}
	c := NewController(b, nil)

	require.NoError(t, c.Engage())
	require.NoError(t, c.Engage())

	prior, _ := c.Prior()
	assert.Equal(t, 0.3, prior, "second engage must not capture 1.0 as prior")
	assert.Equal(t, []float64{1.0}, b.sets)

	require.NoError(t, c.Restore())
	assert.Equal(t, 0.3, b.level)
}

func TestRestoreWithoutEngageIsNoop(t *testing.T) {
	b := &fakeBrightness{level: 0.7}
	o := &fakeOverlay{}
	c := NewController(b, o)

	require.NoError(t, c.Restore())
	require.NoError(t, c.Restore())
	assert.Empty(t, b.sets)
	assert.Zero(t, o.hidden)
}

func TestEngageUnsupported(t *testing.T) {
	c := NewController(nil, nil)
	err := c.Engage()
	assert.True(t, faults.IsKind(err, faults.KindBrightnessUnsupported))
	assert.False(t, c.Engaged())

	b := &fakeBrightness{getErr: errors.New("EACCES")}
	c = NewController(b, &fakeOverlay{})
	err = c.Engage()
	assert.True(t, faults.IsKind(err, faults.KindBrightnessUnsupported))
	assert.False(t, c.Engaged())
	assert.Empty(t, b.sets)
}

func TestRestoreClearsPriorOnWriteFailure(t *testing.T) {
	b := &fakeBrightness{level: 0.5}
	c := NewController(b, nil)
	require.NoError(t, c.Engage())

	b.setErr = errors.New("EIO")
	err := c.Restore()
	assert.True(t, faults.IsKind(err, faults.KindBrightnessUnsupported))
	assert.False(t, c.Engaged())

	b.setErr = nil
	require.NoError(t, c.Restore())
	assert.Equal(t, []float64{1.0, 0.5}, b.sets)
}
