package hw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-station-go/internal/faults"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestBacklightGetSet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "panel0", "max_brightness"), "255\n")
	writeFile(t, filepath.Join(root, "panel0", "brightness"), "51\n")

	bl, err := FindBacklight(root)
	require.NoError(t, err)

	level, err := bl.Get()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, level, 0.001)

	require.NoError(t, bl.Set(1.0))
	assert.Equal(t, "255", readFile(t, filepath.Join(root, "panel0", "brightness")))

	require.NoError(t, bl.Set(1.7))
	assert.Equal(t, "255", readFile(t, filepath.Join(root, "panel0", "brightness")), "clamped")

	require.NoError(t, bl.Set(0.2))
	level, err = bl.Get()
	require.NoError(t, err)
	assert.InDelta(t, 0.2, level, 0.001)
}

func TestBacklightMissing(t *testing.T) {
	_, err := FindBacklight(filepath.Join(t.TempDir(), "nope"))
	assert.True(t, faults.IsKind(err, faults.KindBrightnessUnsupported))

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "broken", "max_brightness"), "0")
	writeFile(t, filepath.Join(root, "broken", "brightness"), "0")
	_, err = FindBacklight(root)
	assert.True(t, faults.IsKind(err, faults.KindBrightnessUnsupported))
}

func TestTorchPrefersTorchNamedLED(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "led:flash", "max_brightness"), "100")
	writeFile(t, filepath.Join(root, "led:flash", "brightness"), "0")
	writeFile(t, filepath.Join(root, "white:torch", "max_brightness"), "7")
	writeFile(t, filepath.Join(root, "white:torch", "brightness"), "0")
	writeFile(t, filepath.Join(root, "green:status", "max_brightness"), "1")

	torch, err := FindTorch(root)
	require.NoError(t, err)

	require.NoError(t, torch.SetTorch(true))
	assert.Equal(t, "7", readFile(t, filepath.Join(root, "white:torch", "brightness")))
	require.NoError(t, torch.SetTorch(false))
	assert.Equal(t, "0", readFile(t, filepath.Join(root, "white:torch", "brightness")))
	assert.Equal(t, "0", readFile(t, filepath.Join(root, "led:flash", "brightness")))
}

func TestTorchMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "green:status", "max_brightness"), "1")
	_, err := FindTorch(root)
	assert.True(t, faults.IsKind(err, faults.KindCaptureDevice))
}

func TestIlluminanceProcessed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "iio:device0", "in_accel_x_raw"), "3")
	writeFile(t, filepath.Join(root, "iio:device1", "in_illuminance_input"), "12.5\n")

	s, err := FindIlluminance(root)
	require.NoError(t, err)
	lux, err := s.Illuminance()
	require.NoError(t, err)
	assert.Equal(t, 12.5, lux)
}

func TestIlluminanceRawScaled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "iio:device0", "in_illuminance_raw"), "40")
	writeFile(t, filepath.Join(root, "iio:device0", "in_illuminance_scale"), "0.25")

	s, err := FindIlluminance(root)
	require.NoError(t, err)
	lux, err := s.Illuminance()
	require.NoError(t, err)
	assert.Equal(t, 10.0, lux)

	require.NoError(t, os.Remove(filepath.Join(root, "iio:device0", "in_illuminance_raw")))
	_, err = s.Illuminance()
	assert.Error(t, err)
}

func TestIlluminanceMissing(t *testing.T) {
	_, err := FindIlluminance(t.TempDir())
	assert.True(t, faults.IsKind(err, faults.KindSensorUnavailable))
}

func TestVibratorPulse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enable")
	assert.Nil(t, FindVibrator(path))

	writeFile(t, path, "0")
	v := FindVibrator(path)
	require.NotNil(t, v)

	v.Vibrate(100 * time.Millisecond)
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == "100"
	}, time.Second, 5*time.Millisecond)

	var none *Vibrator
	none.Vibrate(time.Second)
}
