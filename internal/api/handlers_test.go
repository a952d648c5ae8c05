package api

import (
	"bytes"
	"errors"
	"io"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/require"
	"github.com/zatxm/fhblade"
)

// clientRw stands in for the remote client when driving handlers through
// Blade.ServeHTTP. failAfter caps how many body writes succeed, any write
// after that behaves like a dropped connection.
type clientRw struct {
	header    http.Header
	status    int
	body      bytes.Buffer
	failAfter int
	writes    int
}

func newClientRw() *clientRw {
	return &clientRw{header: http.Header{}, failAfter: -1}
}

func (r *clientRw) Header() http.Header { return r.header }

func (r *clientRw) WriteHeader(code int) { r.status = code }

func (r *clientRw) Write(p []byte) (int, error) {
	if r.failAfter >= 0 && r.writes >= r.failAfter {
		return 0, errors.New("broken pipe")
	}
	r.writes++
	return r.body.Write(p)
}

func (r *clientRw) Flush() {}

func serveReq(t *testing.T, app *fhblade.Blade, rw *clientRw, method, target, bearer string, body io.Reader) {
	t.Helper()
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	app.ServeHTTP(rw, req)
}

func serveJSON(t *testing.T, app *fhblade.Blade, rw *clientRw, method, target, bearer string, payload interface{}) {
	t.Helper()
	b, err := fhblade.Json.Marshal(payload)
	require.NoError(t, err)
	serveReq(t, app, rw, method, target, bearer, bytes.NewReader(b))
}
