package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"fyne.io/fyne/v2/app"

	"capture-station-go/internal/config"
	"capture-station-go/internal/ui"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	configPath := flag.String("config", "", "Path to capture.ini or .yaml (default: ./capture.ini or $"+config.EnvConfigPath+")")
	headless := flag.Bool("headless", false, "Take one photo without a window and print the reply")
	facing := flag.String("facing", "", "Camera to use: back or front (overrides config)")
	target := flag.String("target", "match", "Headless submission target: match or upload")
	importPath := flag.String("import", "", "Headless: submit this image file instead of using the camera")
	swap := flag.Bool("swap", false, "Headless: save the matched artwork to the gallery when the match allows it")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Capture Station %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", GoVersion)
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("[Main] WARNING: Config load error: %v (using defaults)", err)
		cfg = config.DefaultConfig()
	}
	if *facing != "" {
		cfg.InitialFacing = *facing
	}

	logCleanup, err := config.ConfigureLogging(cfg)
	if err != nil {
		log.Printf("[Main] WARNING: Logging setup error: %v", err)
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	log.Printf("[Main] Capture Station %s starting...", Version)
	log.Printf("[Main] Config: %dx%d @ %d FPS, light=%s (<%.0f lux), matcher=%s",
		cfg.CaptureWidth, cfg.CaptureHeight, cfg.CaptureFPS,
		cfg.LightSource, cfg.DarkThresholdLux, cfg.MatcherURL)

	ok, warnings := cfg.Validate()
	if !ok {
		log.Printf("[Main] WARNING: Config validation failed!")
	}
	for _, w := range warnings {
		log.Printf("[Main] WARNING: %s", w)
	}

	if *headless {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		code := runHeadless(ctx, cfg, headlessOptions{Target: *target, ImportPath: *importPath, Swap: *swap, Out: os.Stdout})
		stop()
		if logCleanup != nil {
			logCleanup()
		}
		os.Exit(code)
	}

	runWindow(cfg)
}

func runWindow(cfg *config.Config) {
	fyneApp := app.New()
	whiteout := ui.NewWhiteout()
	st := buildStation(cfg, whiteout)

	var rate ui.RateSource
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if st.governor != nil {
		st.governor.Start(ctx)
		defer st.governor.Stop()
		rate = st.governor
	}

	screen := ui.NewScreen(fyneApp, st.seq, st.device, rate, whiteout, ui.Options{
		Fullscreen:      cfg.Fullscreen,
		PreviewInterval: time.Second / time.Duration(cfg.PreviewFPS),
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[Main] Received signal %v, cleaning up...", sig)
		screen.Close()
		fyneApp.Quit()
	}()

	screen.Run()
	log.Println("[Main] Shutdown complete")
}
