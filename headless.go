package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/capture"
	"capture-station-go/internal/config"
	"capture-station-go/internal/faults"
	"capture-station-go/internal/match"
)

// headlessOptions drives a single unattended capture.
type headlessOptions struct {
	Target     string
	ImportPath string
	// Swap saves the matched artwork to the gallery when the match allows it.
	Swap bool
	Out  io.Writer
	// Warmup lets the light monitor and the stream deliver a first sample
	// before the shutter fires.
	Warmup time.Duration
}

// oneShot is the part of the sequencer a headless run needs.
type oneShot interface {
	Focus(ctx context.Context) error
	Blur() error
	Shutter(ctx context.Context) error
	Import(ctx context.Context, frame camera.Frame) error
	Confirm(ctx context.Context, target capture.Target) (*capture.Outcome, error)
	Swap(ctx context.Context) (*match.UploadAck, error)
	Snapshot() (capture.Session, bool)
}

type headlessReport struct {
	Session string           `json:"session"`
	Facing  string           `json:"facing"`
	Flash   string           `json:"flash"`
	Dark    bool             `json:"dark"`
	Target  string           `json:"target"`
	Bytes   int              `json:"bytes"`
	Match   *match.Result    `json:"match,omitempty"`
	Upload  *match.UploadAck `json:"upload,omitempty"`
	Swapped *match.UploadAck `json:"swapped,omitempty"`
}

func runHeadless(ctx context.Context, cfg *config.Config, opts headlessOptions) int {
	if opts.Warmup <= 0 {
		opts.Warmup = time.Duration(cfg.LightPollMS)*time.Millisecond + time.Second
	}
	if _, err := parseTarget(opts.Target); err != nil {
		log.Printf("[Headless] %v", err)
		return 2
	}
	st := buildStation(cfg, nil)
	if err := shootOnce(ctx, st.seq, opts); err != nil {
		log.Printf("[Headless] %v", err)
		fmt.Fprintln(os.Stderr, faults.UserMessage(err))
		return 1
	}
	return 0
}

func parseTarget(s string) (capture.Target, error) {
	switch s {
	case "", "match":
		return capture.TargetMatch, nil
	case "upload":
		return capture.TargetUpload, nil
	}
	return capture.TargetMatch, fmt.Errorf("unknown target %q (want match or upload)", s)
}

// shootOnce focuses, takes or imports one photo, submits it and writes the
// reply as JSON. The sequencer is always blurred on return.
func shootOnce(ctx context.Context, seq oneShot, opts headlessOptions) error {
	target, err := parseTarget(opts.Target)
	if err != nil {
		return err
	}

	if err := seq.Focus(ctx); err != nil {
		return err
	}
	defer func() {
		if err := seq.Blur(); err != nil {
			log.Printf("[Headless] Blur: %v", err)
		}
	}()

	if opts.ImportPath != "" {
		data, err := os.ReadFile(opts.ImportPath)
		if err != nil {
			return faults.Wrap(faults.KindPostProcess, "headless.import", "read "+filepath.Base(opts.ImportPath), err)
		}
		if err := seq.Import(ctx, camera.Frame{URI: opts.ImportPath, Data: data, CapturedAt: time.Now()}); err != nil {
			return err
		}
	} else {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Warmup):
		}
		if err := seq.Shutter(ctx); err != nil {
			return err
		}
	}

	snap, _ := seq.Snapshot()
	out, err := seq.Confirm(ctx, target)
	if err != nil {
		return err
	}

	report := headlessReport{
		Session: snap.ID,
		Facing:  snap.Facing.String(),
		Flash:   snap.Flash.String(),
		Dark:    snap.Dark,
		Target:  target.String(),
		Match:   out.Match,
		Upload:  out.Upload,
	}
	if snap.Image != nil {
		report.Bytes = snap.Image.Size()
	}
	if opts.Swap && out.Match != nil {
		if out.Match.CanSwap {
			if report.Swapped, err = seq.Swap(ctx); err != nil {
				return err
			}
		} else {
			log.Println("[Headless] Match does not allow a swap, nothing saved")
		}
	}
	data, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if opts.Out != nil {
		fmt.Fprintln(opts.Out, string(data))
	}
	return nil
}
