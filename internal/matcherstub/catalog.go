package matcherstub

import (
	"bytes"
	"fmt"
	"image"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	// catalog artwork may be any of these
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// sigSide is the edge of the grayscale thumbnail used as a signature.
const sigSide = 8

// signature is a mean-centred, unit-variance 8x8 luminance thumbnail.
type signature [sigSide * sigSide]float64

// Artwork is one catalog entry, stored as <category>/<author>__<name>.<ext>.
type Artwork struct {
	Category string
	Author   string
	Name     string
	Path     string
	sig      signature
}

// loadCatalog walks dir and signs every decodable image in it. Files are
// decoded in parallel, at most one per CPU.
func loadCatalog(dir string) ([]Artwork, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("matcherstub: load catalog %s: %w", dir, err)
	}

	signed := make([]*Artwork, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			img, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				log.Printf("[Stub] Skipping %s: %v", path, err)
				return nil
			}
			a := parseArtworkPath(dir, path)
			a.sig = sign(img)
			signed[i] = &a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("matcherstub: load catalog %s: %w", dir, err)
	}

	out := make([]Artwork, 0, len(signed))
	for _, a := range signed {
		if a != nil {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func parseArtworkPath(root, path string) Artwork {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	category := "uncategorized"
	if dir := filepath.Dir(rel); dir != "." {
		category = filepath.ToSlash(dir)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	author, name := "Unknown", stem
	if a, n, ok := strings.Cut(stem, "__"); ok {
		author, name = a, n
	}
	return Artwork{
		Category: category,
		Author:   strings.ReplaceAll(author, "_", " "),
		Name:     strings.ReplaceAll(name, "_", " "),
		Path:     path,
	}
}

// sign reduces img to its luminance signature.
func sign(img image.Image) signature {
	thumb := image.NewGray(image.Rect(0, 0, sigSide, sigSide))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, img.Bounds(), draw.Src, nil)

	var s signature
	var mean float64
	for i, v := range thumb.Pix {
		s[i] = float64(v)
		mean += s[i]
	}
	mean /= float64(len(s))

	var variance float64
	for i := range s {
		s[i] -= mean
		variance += s[i] * s[i]
	}
	if std := math.Sqrt(variance / float64(len(s))); std > 0 {
		for i := range s {
			s[i] /= std
		}
	}
	return s
}

// distance is the RMS difference of two signatures: 0 for identical
// images, about 1.4 for unrelated ones.
func distance(a, b signature) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a)))
}
