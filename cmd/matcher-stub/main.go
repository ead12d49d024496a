package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"capture-station-go/internal/matcherstub"
)

func main() {
	addr := flag.String("addr", ":8088", "Listen address")
	catalog := flag.String("catalog", "./catalog", "Artwork directory (<category>/<author>__<name>.jpg)")
	uploads := flag.String("uploads", "./uploads", "Directory for uploaded photos")
	swap := flag.Float64("swap-threshold", 0.5, "Distance below which canSwap is true")
	history := flag.String("history", "./matcher-history.db", "SQLite file for match and upload records (empty: in memory)")
	debug := flag.Bool("debug", false, "Gin debug mode")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	stub, err := matcherstub.New(matcherstub.Options{
		CatalogDir:    *catalog,
		UploadDir:     *uploads,
		SwapThreshold: *swap,
		HistoryPath:   *history,
		Debug:         *debug,
	})
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
	defer stub.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				if err := stub.Reload(); err != nil {
					log.Printf("[Main] Reload failed: %v", err)
				}
				continue
			}
			log.Printf("[Main] Received signal %v, shutting down...", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(ctx)
			cancel()
			return
		}
	}()

	log.Printf("[Main] Matcher stub listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stub.Close()
		log.Fatalf("[Main] %v", err)
	}
}
