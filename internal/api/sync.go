package api

import (
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/account"
	"github.com/zatxm/gemini-web2api/internal/store"
	"github.com/zatxm/gemini-web2api/internal/types"
	"go.uber.org/zap"
)

type syncPayload struct {
	CookieStr string `json:"cookie_str"`
	Psid      string `json:"psid"`
	Psidts    string `json:"psidts"`
	Label     string `json:"label"`
}

// DoSyncCookie serves POST /sync/cookie, the push endpoint browser plugins
// use to register a fresh cookie bundle.
func DoSyncCookie(st *store.Store, pool *account.Pool) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkBearer(c, st.Settings().SyncToken) {
			return c.JSONAndStatus(http.StatusUnauthorized, types.ErrorResponse{
				Error: &types.CError{
					Message: "invalid sync token",
					CType:   "invalid_request_error",
					Code:    "invalid_sync_token",
				},
			})
		}
		var p syncPayload
		if err := c.ShouldBindJSON(&p); err != nil {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "params error",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		cookies := parseCookieStr(p.CookieStr)
		psid := p.Psid
		if psid == "" {
			psid = cookies["__Secure-1PSID"]
		}
		if psid == "" {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "__Secure-1PSID required",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		psidts := p.Psidts
		if psidts == "" {
			psidts = cookies["__Secure-1PSIDTS"]
		}
		action := "added"
		if _, ok := st.Get(store.AccountID(psid)); ok {
			action = "updated"
		}
		acc, err := st.Upsert(psid, psidts, cookies, p.Label)
		if err != nil {
			fhblade.Log.Error("sync cookie save err", zap.Error(err))
			return c.JSONAndStatus(http.StatusInternalServerError, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "server_error",
					Code:    "store_error",
				},
			})
		}
		pool.Refresh()
		fhblade.Log.Info("cookie synced",
			zap.String("id", acc.ID),
			zap.String("action", action))
		return c.JSONAndStatus(http.StatusOK, fhblade.H{
			"success": true,
			"action":  action,
			"id":      acc.ID,
		})
	}
}

func parseCookieStr(s string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
