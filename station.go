package main

import (
	"log"
	"time"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/capture"
	"capture-station-go/internal/config"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/hw"
	"capture-station-go/internal/light"
	"capture-station-go/internal/match"
	"capture-station-go/internal/perf"
	"capture-station-go/internal/postprocess"
)

// station holds the wired collaborators of one capture screen.
type station struct {
	device   *camera.LocalDevice
	seq      *capture.Sequencer
	governor *perf.Governor
}

// buildStation detects the hardware and wires the sequencer. overlay may be
// nil (headless); missing hardware degrades instead of failing.
func buildStation(cfg *config.Config, overlay flash.Overlay) *station {
	var torch camera.TorchSwitch
	if t, err := hw.FindTorch(cfg.LEDRoot); err == nil {
		torch = t
	} else {
		log.Printf("[Main] No torch LED: %v", err)
	}

	backPath, frontPath := cfg.BackDevice, cfg.FrontDevice
	if backPath == "" || frontPath == "" {
		cams, err := camera.DiscoverCameras(cfg.DevDir)
		if err != nil {
			log.Printf("[Main] Camera discovery: %v", err)
		}
		for _, c := range cams {
			log.Printf("[Main] Found %s at %s", c.Name, c.DevicePath)
			switch {
			case c.Facing == camera.FacingBack && backPath == "":
				backPath = c.DevicePath
			case c.Facing == camera.FacingFront && frontPath == "":
				frontPath = c.DevicePath
			}
		}
	}

	device := camera.NewLocalDevice(camera.LocalConfig{
		BackPath:    backPath,
		FrontPath:   frontPath,
		Width:       cfg.CaptureWidth,
		Height:      cfg.CaptureHeight,
		FPS:         cfg.CaptureFPS,
		Format:      cfg.CaptureFormat,
		SpoolDir:    cfg.SpoolDir,
		FreeHolders: cfg.KillDeviceHolders,
		PatternOnly: cfg.PatternOnly,
	}, torch)

	monitor := light.NewMonitor(selectSensor(cfg, device), light.Options{
		Interval:  time.Duration(cfg.LightPollMS) * time.Millisecond,
		Threshold: cfg.DarkThresholdLux,
		Verbose:   cfg.DebugEnabled(),
	})

	var brightness flash.Brightness
	if b, err := hw.FindBacklight(cfg.BacklightRoot); err == nil {
		brightness = b
	} else {
		log.Printf("[Main] No backlight control, screen flash disabled: %v", err)
	}
	flashCtl := flash.NewController(brightness, overlay)

	deps := capture.Deps{
		Camera: device,
		Light:  monitor,
		Flash:  flashCtl,
		Processor: &postprocess.Processor{
			MaxWidth: cfg.MaxWidth,
			Quality:  cfg.JPEGQuality,
			MaxBytes: cfg.MaxPayloadBytes,
		},
		Submitter: match.NewClient(match.Options{
			BaseURL: cfg.MatcherURL,
			UserID:  cfg.UserID,
			Timeout: time.Duration(cfg.RequestTimeoutSec * float64(time.Second)),
		}),
	}
	if v := hw.FindVibrator(cfg.VibratorPath); v != nil {
		deps.Haptics = v
	}

	facing, err := camera.ParseFacing(cfg.InitialFacing)
	if err != nil {
		log.Printf("[Main] WARNING: %v", err)
	}

	st := &station{
		device: device,
		seq: capture.NewSequencer(deps, capture.Options{
			SettleDelay:   time.Duration(cfg.SettleDelayMS) * time.Millisecond,
			HapticPulse:   time.Duration(cfg.HapticPulseMS) * time.Millisecond,
			InitialFacing: facing,
		}),
	}
	if cfg.DynamicPreview {
		var source perf.Source = perf.NewHostSource()
		if cfg.PerfSource == "proc" {
			source = perf.NewMonitor()
		}
		st.governor = perf.NewGovernor(source, perf.GovernorConfig{
			MaxFPS:        cfg.PreviewFPS,
			MinFPS:        cfg.MinPreviewFPS,
			Interval:      time.Duration(cfg.PerfCheckIntervalMS) * time.Millisecond,
			LoadThreshold: cfg.CPULoadThreshold,
			TempThreshold: cfg.CPUTempThresholdC,
		})
	}
	return st
}

// selectSensor picks the light source: the IIO sensor when present, the
// preview frames otherwise, or nothing.
func selectSensor(cfg *config.Config, device *camera.LocalDevice) light.Sensor {
	switch cfg.LightSource {
	case "none":
		log.Println("[Main] Ambient light sensing disabled")
		return nil
	case "frame":
		return light.NewFrameSensor(device.Buffer(), cfg.FrameFullScaleLux)
	}

	if s, err := hw.FindIlluminance(cfg.IIORoot); err == nil {
		log.Println("[Main] Using IIO ambient light sensor")
		return s
	} else if cfg.LightSource == "iio" {
		log.Printf("[Main] WARNING: %v", err)
		return nil
	}
	log.Println("[Main] No IIO light sensor, estimating from preview frames")
	return light.NewFrameSensor(device.Buffer(), cfg.FrameFullScaleLux)
}
