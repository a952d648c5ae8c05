package api

import (
	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/artifact"
	"github.com/zatxm/gemini-web2api/internal/types"
)

// DoArtifact serves GET /file/:id, the cached generated images referenced
// from chat replies. No authentication, ids are unguessable.
func DoArtifact(cache *artifact.Cache) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		path, err := cache.Resolve(c.Get("id"))
		if err != nil {
			return c.JSONAndStatus(http.StatusNotFound, types.ErrorResponse{
				Error: &types.CError{
					Message: "file not found",
					CType:   "invalid_request_error",
					Code:    "not_found",
				},
			})
		}
		return c.File(path)
	}
}
