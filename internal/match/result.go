package match

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Result is the service's best match. Only MatchedPhoto is guaranteed;
// the rest is display metadata.
type Result struct {
	MatchedPhoto       string   `json:"matched_photo"`
	Author             string   `json:"author"`
	Name               string   `json:"name"`
	Category           string   `json:"category"`
	SimilarityDistance Distance `json:"similarityDistance"`
	CanSwap            bool     `json:"canSwap"`
	MatchID            string   `json:"matchID"`
}

// UnmarshalJSON requires matched_photo to be a string and takes the
// metadata in whatever shape the server sends: numbers or strings for
// text, booleans, "true" or 1 for canSwap. Anything unusable reads as
// empty.
func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		MatchedPhoto       string `json:"matched_photo"`
		Author             loose  `json:"author"`
		Name               loose  `json:"name"`
		Category           loose  `json:"category"`
		SimilarityDistance loose  `json:"similarityDistance"`
		CanSwap            loose  `json:"canSwap"`
		MatchID            loose  `json:"matchID"`
	}
	if err := sonic.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Result{
		MatchedPhoto:       wire.MatchedPhoto,
		Author:             wire.Author.text(),
		Name:               wire.Name.text(),
		Category:           wire.Category.text(),
		SimilarityDistance: Distance(wire.SimilarityDistance.text()),
		CanSwap:            wire.CanSwap.flag(),
		MatchID:            wire.MatchID.text(),
	}
	return nil
}

// UploadAck is the reply to an upload.
type UploadAck struct {
	Message string `json:"message"`
}

// EncodedPhoto is a photo that is already base64, such as the matched
// artwork in a Result.
type EncodedPhoto string

func (p EncodedPhoto) Base64() string { return string(p) }

// Distance is the similarity distance in the textual form the server
// sent. Servers send it either as a JSON number or a JSON string.
type Distance string

// Float parses the distance; ok is false when it is not numeric.
func (d Distance) Float() (v float64, ok bool) {
	v, err := strconv.ParseFloat(string(d), 64)
	return v, err == nil
}

func (d Distance) String() string {
	if d == "" {
		return "n/a"
	}
	return string(d)
}

// loose keeps a raw JSON value for lenient conversion.
type loose []byte

func (l *loose) UnmarshalJSON(data []byte) error {
	*l = append((*l)[:0], data...)
	return nil
}

// text returns strings unquoted and numbers or booleans as written.
// null, objects and arrays give "".
func (l loose) text() string {
	raw := bytes.TrimSpace(l)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := sonic.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	}
	return string(raw)
}

func (l loose) flag() bool {
	v := strings.ToLower(strings.TrimSpace(l.text()))
	switch v {
	case "true", "yes", "y":
		return true
	}
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f != 0
}
