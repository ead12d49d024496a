// Package matcherstub is a local stand-in for the matching service. It
// matches submitted photos against a directory of artwork by comparing
// small luminance signatures and stores uploads on disk.
package matcherstub

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Options configures a Server.
type Options struct {
	CatalogDir string
	UploadDir  string
	// SwapThreshold is the distance below which a match may be swapped.
	SwapThreshold float64
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64
	// HistoryPath is the SQLite file for match and upload records;
	// empty keeps them in memory.
	HistoryPath string
	Debug       bool
}

// Server serves /match-photo and /upload-photo.
type Server struct {
	opts    Options
	engine  *gin.Engine
	history *History

	mu      sync.RWMutex
	catalog []Artwork
}

type matchRequest struct {
	PhotoData string `json:"photoData"`
}

type uploadRequest struct {
	UserID    string `json:"UserId"`
	PhotoData string `json:"Photo_data"`
}

// New loads the catalog and builds the router.
func New(opts Options) (*Server, error) {
	if opts.SwapThreshold <= 0 {
		opts.SwapThreshold = 0.5
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 32 << 20
	}

	if opts.HistoryPath == "" {
		opts.HistoryPath = ":memory:"
	}

	history, err := OpenHistory(opts.HistoryPath)
	if err != nil {
		return nil, err
	}
	s := &Server{opts: opts, history: history}
	if err := s.Reload(); err != nil {
		history.Close()
		return nil, err
	}
	s.engine = s.buildRouter()
	return s, nil
}

// Close releases the history database.
func (s *Server) Close() error {
	return s.history.Close()
}

// Reload re-reads the catalog directory.
func (s *Server) Reload() error {
	if s.opts.CatalogDir == "" {
		return nil
	}
	catalog, err := loadCatalog(s.opts.CatalogDir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	log.Printf("[Stub] Catalog loaded: %d artworks from %s", len(catalog), s.opts.CatalogDir)
	return nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	if s.opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
		c.Next()
	})

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/match-photo", s.handleMatch)
	engine.POST("/upload-photo", s.handleUpload)
	engine.GET("/matches/:id", s.handleGetMatch)
	engine.GET("/uploads/:user", s.handleListUploads)
	return engine
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("[Stub] %s %s -> %d in %v (request %s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Millisecond), c.GetHeader("X-Request-ID"))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	n := len(s.catalog)
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "artworks": n})
}

func (s *Server) handleMatch(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	img, _, err := decodePhoto(req.PhotoData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	best, dist, ok := s.closest(sign(img))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "catalog is empty"})
		return
	}
	artwork, err := os.ReadFile(best.Path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "artwork unreadable"})
		return
	}

	rec := MatchRecord{
		ID:        uuid.NewString(),
		RequestID: c.GetHeader("X-Request-ID"),
		Category:  best.Category,
		Author:    best.Author,
		Name:      best.Name,
		Distance:  math.Round(dist*10000) / 10000,
		CanSwap:   dist < s.opts.SwapThreshold,
	}
	if err := s.history.RecordMatch(c.Request.Context(), rec); err != nil {
		log.Printf("[Stub] %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"matched_photo":      base64.StdEncoding.EncodeToString(artwork),
		"author":             rec.Author,
		"name":               rec.Name,
		"category":           rec.Category,
		"similarityDistance": rec.Distance,
		"canSwap":            rec.CanSwap,
		"matchID":            rec.ID,
	})
}

func (s *Server) handleGetMatch(c *gin.Context) {
	rec, err := s.history.Match(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNoRecord):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown matchID"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) handleListUploads(c *gin.Context) {
	user, ok := safeSegment(c.Param("user"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user"})
		return
	}
	recs, err := s.history.Uploads(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	if recs == nil {
		recs = []UploadRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"userId": user, "uploads": recs})
}

func (s *Server) closest(sig signature) (Artwork, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.catalog) == 0 {
		return Artwork{}, 0, false
	}
	best, bestDist := s.catalog[0], distance(sig, s.catalog[0].sig)
	for _, a := range s.catalog[1:] {
		if d := distance(sig, a.sig); d < bestDist {
			best, bestDist = a, d
		}
	}
	return best, bestDist, true
}

func (s *Server) handleUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	user, ok := safeSegment(req.UserID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "UserId is required"})
		return
	}
	_, raw, err := decodePhoto(req.PhotoData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.opts.UploadDir == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads disabled"})
		return
	}

	dir := filepath.Join(s.opts.UploadDir, user)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot store photo"})
		return
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+".jpg")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot store photo"})
		return
	}
	if err := s.history.RecordUpload(c.Request.Context(), UploadRecord{
		ID: id, UserID: user, Path: path, Bytes: len(raw),
	}); err != nil {
		log.Printf("[Stub] %v", err)
	}
	log.Printf("[Stub] Stored upload for %s at %s (%d bytes)", user, path, len(raw))
	c.JSON(http.StatusOK, gin.H{"message": "Photo uploaded successfully"})
}

func decodePhoto(b64 string) (image.Image, []byte, error) {
	if b64 == "" {
		return nil, nil, fmt.Errorf("photo data is required")
	}
	// tolerate data URLs
	if i := strings.Index(b64, ";base64,"); i >= 0 {
		b64 = b64[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, nil, fmt.Errorf("photo data is not base64")
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("photo data is not an image")
	}
	return img, raw, nil
}

func safeSegment(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return "", false
	}
	return s, true
}
