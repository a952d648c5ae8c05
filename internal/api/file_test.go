package api

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/artifact"
	"github.com/zatxm/gemini-web2api/internal/store"
	"github.com/zatxm/gemini-web2api/internal/types"
)

// The full image round trip: a generated image is cached exactly once and
// the markdown reference in the reply resolves through /file/:id.
func TestGeneratedImageServedFromCache(t *testing.T) {
	t.Parallel()

	png := append([]byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}, []byte("fake image payload")...)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	defer upstream.Close()

	cache, err := artifact.New(t.TempDir(), 16)
	require.NoError(t, err)
	out := &types.ModelOutput{
		Meta: &types.SessionMeta{Cid: "c_1"},
		Candidates: []*types.Candidate{{
			Text:   "here you go",
			Images: []*types.GeneratedImage{{URL: upstream.URL + "/gen/cat", Title: "a cat"}},
		}},
	}
	settings := &store.Settings{ImageMode: "url", BaseUrl: "http://127.0.0.1:8000"}

	reply := appendImages(out, "", cache, settings)
	assert.Equal(t, 1, cache.Len())
	assert.True(t, strings.HasPrefix(reply, "here you go"))

	m := regexp.MustCompile(`!\[a cat\]\(http://127\.0\.0\.1:8000/file/([a-f0-9]{32})\)`).FindStringSubmatch(reply)
	require.Len(t, m, 2)

	app := fhblade.New()
	app.Get("/file/:id", DoArtifact(cache))

	rw := newClientRw()
	serveReq(t, app, rw, "GET", "http://127.0.0.1:8000/file/"+m[1], "", nil)
	assert.Equal(t, 200, rw.status)
	assert.Equal(t, png, rw.body.Bytes())

	rw2 := newClientRw()
	serveReq(t, app, rw2, "GET", "http://127.0.0.1:8000/file/"+strings.Repeat("0", 32), "", nil)
	assert.Equal(t, 404, rw2.status)
}
