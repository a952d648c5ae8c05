package api

import (
	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/gemini"
	"github.com/zatxm/gemini-web2api/internal/store"
	"github.com/zatxm/gemini-web2api/internal/types"
)

// DoListModels serves GET /v1/models.
func DoListModels(st *store.Store) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkBearer(c, st.Settings().ApiKey) {
			return c.JSONAndStatus(http.StatusUnauthorized, types.ErrorResponse{
				Error: &types.CError{
					Message: "invalid api key",
					CType:   "invalid_request_error",
					Code:    "invalid_api_key",
				},
			})
		}
		names := gemini.Models()
		data := make([]*types.Model, 0, len(names))
		for k := range names {
			data = append(data, &types.Model{
				ID:      names[k],
				Object:  "model",
				Created: 1686935002,
				OwnedBy: "google",
			})
		}
		return c.JSONAndStatus(http.StatusOK, &types.ModelsResponse{
			Object: "list",
			Data:   data,
		})
	}
}
