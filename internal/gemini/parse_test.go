package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/types"
)

// envelopeBody wraps stringified inner arrays the way batchexecute replies do.
func envelopeBody(t *testing.T, inners ...string) []byte {
	t.Helper()
	items := make([]interface{}, 0, len(inners))
	for _, in := range inners {
		items = append(items, []interface{}{"wrb.fr", nil, in})
	}
	line, err := fhblade.Json.Marshal(items)
	require.NoError(t, err)
	return []byte(")]}'\n\n" + string(line) + "\n")
}

func TestParseResponseBasic(t *testing.T) {
	t.Parallel()

	inner := `[null,["c_123abc","r_456def"],null,null,[["rc_789def",["hello world"]]]]`
	out, err := ParseResponse(envelopeBody(t, inner))
	require.NoError(t, err)
	assert.Equal(t, "c_123abc", out.Meta.Cid)
	assert.Equal(t, "r_456def", out.Meta.Rid)
	assert.Equal(t, "rc_789def", out.Meta.Rcid)
	assert.Equal(t, "hello world", out.Text())
	assert.Empty(t, out.Images())
}

func TestParseResponseSkipsMetadataEnvelopes(t *testing.T) {
	t.Parallel()

	metaOnly := `[null,["c_123abc","r_456def"]]`
	withBody := `[null,["c_123abc","r_456def"],null,null,[["rc_aa12",["the answer"]]]]`
	out, err := ParseResponse(envelopeBody(t, metaOnly, withBody))
	require.NoError(t, err)
	assert.Equal(t, "the answer", out.Text())
	assert.Equal(t, "rc_aa12", out.Meta.Rcid)
}

func TestParseResponseMultipleCandidates(t *testing.T) {
	t.Parallel()

	inner := `[null,["c_1a","r_2b"],null,null,[["rc_3c",["first"]],["rc_4d",["second"]]]]`
	out, err := ParseResponse(envelopeBody(t, inner))
	require.NoError(t, err)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, "first", out.Text())
	assert.Equal(t, "second", out.Candidates[1].Text)
	// chosen candidate drives the continuation id
	assert.Equal(t, "rc_3c", out.Meta.Rcid)
}

func TestParseResponseGeneratedImages(t *testing.T) {
	t.Parallel()

	img := `[[null,null,null,[null,null,null,"https://lh3.googleusercontent.com/gen/abc123"]],null,null,[null,null,null,null,null,"a cat drawing"]]`
	cand := `["rc_9f",["Here it is http://googleusercontent.com/image_generation_content/0"],null,null,null,null,null,null,null,null,null,null,[null,null,null,null,null,null,null,[[` + img + `]]]]`
	inner := `[null,["c_1a","r_2b"],null,null,[` + cand + `]]`
	out, err := ParseResponse(envelopeBody(t, inner))
	require.NoError(t, err)
	imgs := out.Images()
	require.Len(t, imgs, 1)
	assert.Equal(t, "https://lh3.googleusercontent.com/gen/abc123", imgs[0].URL)
	assert.Equal(t, "a cat drawing", imgs[0].Title)
	// placeholder url is stripped from the reply text
	assert.Equal(t, "Here it is", out.Text())
}

func TestParseResponseNoCandidates(t *testing.T) {
	t.Parallel()

	_, err := ParseResponse(envelopeBody(t, `[null,[null,"r_456def"]]`))
	assert.Error(t, err)

	_, err = ParseResponse([]byte(")]}'\n\n"))
	assert.Error(t, err)
}

func TestIsEmptyAck(t *testing.T) {
	t.Parallel()

	ack := []byte(`[["wrb.fr",null,"[null,[null,\"r_0123abc\"]]"]]`)
	assert.True(t, isEmptyAck(ack))

	full := []byte(`[["wrb.fr",null,"[null,[\"c_1\",\"r_0123abc\"],null,null,[[\"rc_9\",[\"hi\"]]]]"]]`)
	assert.False(t, isEmptyAck(full))
}

func TestIsHTMLError(t *testing.T) {
	t.Parallel()

	assert.True(t, isHTMLError([]byte(`<html><head><title>Error</title></head></html>`)))
	assert.True(t, isHTMLError([]byte(`detected unusual traffic from your network`)))
	assert.False(t, isHTMLError([]byte(`[["wrb.fr",null,"[null]"]]`)))
}

func TestExtractToken(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><head><script>window.WIZ_global_data = {"oxN3nb":[1],"SNlM0e":"AFzcUv-abc:1699999999999"};</script></head><body></body></html>`)
	assert.Equal(t, "AFzcUv-abc:1699999999999", extractToken(page))

	assert.Empty(t, extractToken([]byte(`<html><body>signin page</body></html>`)))
}

func TestBuildEnvelope(t *testing.T) {
	t.Parallel()

	payload, err := buildEnvelope("hi there", nil, ModelID("gemini-2.5-flash"), "tok123", nil)
	require.NoError(t, err)
	assert.Contains(t, payload, `[null,"`)
	assert.Contains(t, payload, `hi there`)
	assert.Contains(t, payload, `tok123`)
	assert.Contains(t, payload, `e6fa609c3fa255c0`)
}

func TestBuildEnvelopeContinuation(t *testing.T) {
	t.Parallel()

	meta := &types.SessionMeta{Cid: "c_1a", Rid: "r_2b", Rcid: "rc_3c"}
	payload, err := buildEnvelope("again", nil, ModelID("gemini-2.5-pro"), "tok", meta)
	require.NoError(t, err)
	assert.Contains(t, payload, `c_1a`)
	assert.Contains(t, payload, `r_2b`)
	assert.Contains(t, payload, `rc_3c`)
}

func TestBuildEnvelopeWithFiles(t *testing.T) {
	t.Parallel()

	files := []*UploadedFile{{ID: "/contrib_service/ttl_1d/abc", Name: "photo.png"}}
	payload, err := buildEnvelope("what is this", files, ModelID("gemini-2.5-flash"), "tok", nil)
	require.NoError(t, err)
	assert.Contains(t, payload, `contrib_service`)
	assert.Contains(t, payload, `photo.png`)
}

func TestModelIDFallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModelID(DefaultModel), ModelID("no-such-model"))
	assert.NotEqual(t, ModelID("gemini-2.5-pro"), ModelID("gemini-2.5-flash"))
}
