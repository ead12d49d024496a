// Package postprocess turns a raw capture into the compressed, base64
// payload the matching service accepts.
package postprocess

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	// registered decoders for gallery imports
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"capture-station-go/internal/camera"
	"capture-station-go/internal/faults"
)

// Defaults of the upload contract: 1080 px wide at JPEG quality 50
// (compression factor 0.5).
const (
	DefaultMaxWidth = 1080
	DefaultQuality  = 50
	DefaultMaxBytes = 8 << 20
)

// Payload is a processed image. It is never modified after Process
// returns and may be submitted any number of times.
type Payload struct {
	Width  int
	Height int
	Format string
	jpeg   []byte
	b64    string
}

// Base64 returns the standard base64 encoding of the JPEG bytes.
func (p *Payload) Base64() string { return p.b64 }

// Bytes returns a copy of the JPEG bytes.
func (p *Payload) Bytes() []byte { return append([]byte(nil), p.jpeg...) }

// Size is the JPEG size in bytes.
func (p *Payload) Size() int { return len(p.jpeg) }

// Processor resizes and recompresses captures.
type Processor struct {
	MaxWidth int
	Quality  int
	// MaxBytes bounds the encoded JPEG; larger results are rejected.
	MaxBytes int
}

// NewProcessor returns a Processor with the upload defaults.
func NewProcessor() *Processor {
	return &Processor{MaxWidth: DefaultMaxWidth, Quality: DefaultQuality, MaxBytes: DefaultMaxBytes}
}

// Process decodes frame (from Data, or from the file at URI when Data is
// empty), scales it down to MaxWidth preserving aspect ratio and encodes
// it as JPEG. Output is deterministic for identical input. All failures
// are of kind PostProcess.
func (p *Processor) Process(ctx context.Context, frame camera.Frame) (payload *Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = faults.New(faults.KindPostProcess, "postprocess", fmt.Sprintf("decoder panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindPostProcess, "postprocess", "cancelled", err)
	}

	data := frame.Data
	if len(data) == 0 {
		if frame.URI == "" {
			return nil, faults.New(faults.KindPostProcess, "postprocess.read", "frame has no data")
		}
		if data, err = os.ReadFile(frame.URI); err != nil {
			return nil, faults.Wrap(faults.KindPostProcess, "postprocess.read", "read "+frame.URI, err)
		}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(faults.KindPostProcess, "postprocess.decode", "decode image", err)
	}

	dst := p.scale(src)
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindPostProcess, "postprocess", "cancelled", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality()}); err != nil {
		return nil, faults.Wrap(faults.KindPostProcess, "postprocess.encode", "encode jpeg", err)
	}
	if p.MaxBytes > 0 && buf.Len() > p.MaxBytes {
		return nil, faults.New(faults.KindPostProcess, "postprocess.encode",
			fmt.Sprintf("payload %d bytes exceeds %d", buf.Len(), p.MaxBytes))
	}

	b := dst.Bounds()
	return &Payload{
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		jpeg:   buf.Bytes(),
		b64:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

func (p *Processor) quality() int {
	if p.Quality <= 0 || p.Quality > 100 {
		return DefaultQuality
	}
	return p.Quality
}

// scale returns src unchanged when it already fits, otherwise a
// Catmull-Rom downscale to MaxWidth.
func (p *Processor) scale(src image.Image) image.Image {
	maxWidth := p.MaxWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	b := src.Bounds()
	if b.Dx() <= maxWidth {
		return src
	}
	h := int(float64(b.Dy())*float64(maxWidth)/float64(b.Dx()) + 0.5)
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
