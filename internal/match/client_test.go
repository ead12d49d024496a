package match

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capture-station-go/internal/faults"
)

type b64 string

func (p b64) Base64() string { return string(p) }

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL + "/", UserID: "user-7"})
}

func TestMatchSendsPhotoAndDecodesResult(t *testing.T) {
	var gotBody map[string]string
	var gotHeader http.Header
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/match-photo", r.URL.Path)
		gotHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"matched_photo":"QUJD","author":"Monet","name":"Water Lilies",
			"category":"impressionism","similarityDistance":0.12,"canSwap":true,"matchID":"m-1"}`)
	})

	res, err := c.Match(context.Background(), b64("cGhvdG8="))
	require.NoError(t, err)

	assert.Equal(t, "cGhvdG8=", gotBody["photoData"])
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	_, err = uuid.Parse(gotHeader.Get("X-Request-ID"))
	assert.NoError(t, err)

	assert.Equal(t, &Result{
		MatchedPhoto:       "QUJD",
		Author:             "Monet",
		Name:               "Water Lilies",
		Category:           "impressionism",
		SimilarityDistance: "0.12",
		CanSwap:            true,
		MatchID:            "m-1",
	}, res)
	v, ok := res.SimilarityDistance.Float()
	assert.True(t, ok)
	assert.Equal(t, 0.12, v)
}

func TestMatchAcceptsStringDistanceAndSparseReply(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"matched_photo":"QUJD","similarityDistance":"0.5"}`)
	})
	res, err := c.Match(context.Background(), b64("x"))
	require.NoError(t, err)
	assert.Equal(t, Distance("0.5"), res.SimilarityDistance)
	assert.Empty(t, res.Author)
	assert.False(t, res.CanSwap)
}

func TestMatchServerErrorIsTransport(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Match(context.Background(), b64("x"))
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindSubmitTransport))
	assert.Contains(t, err.Error(), "500")
}

func TestMatchDecodeFailures(t *testing.T) {
	replies := map[string]string{
		"malformed":        `{"matched_photo":`,
		"no matched_photo": `{"author":"x"}`,
		"numeric photo":    `{"matched_photo":17}`,
	}
	for name, reply := range replies {
		reply := reply
		c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, reply)
		})
		_, err := c.Match(context.Background(), b64("x"))
		assert.True(t, faults.IsKind(err, faults.KindSubmitDecode), name)
	}
}

func TestMatchUnreachableIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Options{BaseURL: url, Timeout: time.Second})
	_, err := c.Match(context.Background(), b64("x"))
	assert.True(t, faults.IsKind(err, faults.KindSubmitTransport))
}

func TestMatchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Match(ctx, b64("x"))
	assert.True(t, faults.IsKind(err, faults.KindSubmitTransport))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadSendsUserID(t *testing.T) {
	var gotBody map[string]string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-photo", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &gotBody))
		_, _ = io.WriteString(w, `{"message":"saved"}`)
	})

	ack, err := c.Upload(context.Background(), b64("cGhvdG8="))
	require.NoError(t, err)
	assert.Equal(t, "saved", ack.Message)
	assert.Equal(t, "user-7", gotBody["UserId"])
	assert.Equal(t, "cGhvdG8=", gotBody["Photo_data"])
}

func TestUploadEmptyReply(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	ack, err := c.Upload(context.Background(), b64("x"))
	require.NoError(t, err)
	assert.Empty(t, ack.Message)
}

func TestDistanceString(t *testing.T) {
	assert.Equal(t, "n/a", Distance("").String())
	assert.Equal(t, "3", Distance("3").String())
	_, ok := Distance("far").Float()
	assert.False(t, ok)
}

func TestMatchToleratesLooseMetadata(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  Result
	}{
		{"numeric matchID", `{"matched_photo":"QUJD","matchID":17}`,
			Result{MatchedPhoto: "QUJD", MatchID: "17"}},
		{"string canSwap", `{"matched_photo":"QUJD","canSwap":"true"}`,
			Result{MatchedPhoto: "QUJD", CanSwap: true}},
		{"numeric canSwap", `{"matched_photo":"QUJD","canSwap":1}`,
			Result{MatchedPhoto: "QUJD", CanSwap: true}},
		{"odd shapes", `{"matched_photo":"QUJD","author":42,"name":null,"category":{"x":1},"similarityDistance":[1],"canSwap":"no"}`,
			Result{MatchedPhoto: "QUJD", Author: "42"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.reply)
			})
			res, err := c.Match(context.Background(), b64("x"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, *res)
		})
	}
}

func TestEncodedPhotoIsSentAsIs(t *testing.T) {
	var gotBody map[string]string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &gotBody))
		_, _ = io.WriteString(w, `{"message":"Photo uploaded successfully"}`)
	})
	_, err := c.Upload(context.Background(), EncodedPhoto("QUJD"))
	require.NoError(t, err)
	assert.Equal(t, "QUJD", gotBody["Photo_data"])
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	body := strings.Repeat("a", 199) + "é" + strings.Repeat("b", 50)
	s := snippet([]byte(body))
	assert.True(t, utf8.ValidString(s))
	assert.Equal(t, strings.Repeat("a", 199)+"...", s)

	assert.Equal(t, "short", snippet([]byte("  short \n")))
}
