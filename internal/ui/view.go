package ui

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"

	"capture-station-go/internal/capture"
	"capture-station-go/internal/faults"
	"capture-station-go/internal/flash"
	"capture-station-go/internal/postprocess"
)

// controls says which buttons are live in a given session state.
type controls struct {
	Shutter bool
	Cancel  bool
	Flip    bool
	Import  bool
	Retake  bool
	Match   bool
	Upload  bool
	Swap    bool
}

func controlsFor(s capture.Session) controls {
	switch s.State {
	case capture.StateArming:
		return controls{Shutter: true, Flip: true, Import: true}
	case capture.StateCapturing:
		return controls{Cancel: true, Flip: true}
	case capture.StateReviewing:
		return controls{Retake: true, Match: true, Upload: true}
	case capture.StateFailed:
		retry := s.Image != nil
		return controls{Retake: true, Match: retry, Upload: retry}
	case capture.StateDone:
		return controls{Retake: true, Swap: canSwap(s)}
	default:
		return controls{}
	}
}

// canSwap reports whether the matched artwork can still be saved.
func canSwap(s capture.Session) bool {
	out := s.Outcome
	return !s.Swapping && out != nil && out.Match != nil && out.Match.CanSwap && out.Swapped == nil
}

// showsPreview reports whether the live camera feed is on screen.
func showsPreview(st capture.State) bool {
	return st == capture.StateArming || st == capture.StateCapturing
}

func statusText(s capture.Session) string {
	switch s.State {
	case capture.StateIdle:
		return "Camera paused"
	case capture.StateArming:
		if s.Err != nil {
			return faults.UserMessage(s.Err)
		}
		switch s.Flash {
		case flash.Torch:
			return "Low light: torch on"
		case flash.ScreenFlash:
			return "Low light: screen flash on capture"
		}
		return "Ready"
	case capture.StateCapturing:
		return "Hold still"
	case capture.StateProcessing:
		return "Processing photo"
	case capture.StateReviewing:
		return "Match this photo or upload it"
	case capture.StateSubmitting:
		return "Sending"
	case capture.StateDone:
		switch {
		case s.Swapping:
			return "Saving the matched photo"
		case s.Err != nil:
			return faults.UserMessage(s.Err)
		}
		return "Done. Tap Retake for another photo"
	case capture.StateFailed:
		return faults.UserMessage(s.Err)
	}
	return ""
}

func resultText(out *capture.Outcome) string {
	if out == nil {
		return ""
	}
	if out.Upload != nil {
		return out.Upload.Message
	}
	m := out.Match
	if m == nil {
		return ""
	}

	var b strings.Builder
	title := m.Name
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&b, "%s", title)
	if m.Author != "" {
		fmt.Fprintf(&b, " by %s", m.Author)
	}
	if m.Category != "" {
		fmt.Fprintf(&b, " (%s)", m.Category)
	}
	fmt.Fprintf(&b, "\nSimilarity distance: %s", m.SimilarityDistance)
	switch {
	case out.Swapped != nil:
		b.WriteString("\nSaved to your gallery")
		if msg := out.Swapped.Message; msg != "" {
			fmt.Fprintf(&b, ": %s", msg)
		}
	case m.CanSwap:
		b.WriteString("\nClose enough to swap")
	}
	return b.String()
}

func decodePayload(p *postprocess.Payload) (image.Image, error) {
	if p == nil {
		return nil, fmt.Errorf("ui: no photo")
	}
	img, _, err := image.Decode(bytes.NewReader(p.Bytes()))
	return img, err
}

// decodeMatched decodes the base64 artwork returned by the matcher.
func decodeMatched(b64 string) (image.Image, error) {
	if i := strings.Index(b64, ","); i >= 0 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("ui: matched photo: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("ui: matched photo: %w", err)
	}
	return img, nil
}
