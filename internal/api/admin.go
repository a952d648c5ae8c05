package api

import (
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/account"
	"github.com/zatxm/gemini-web2api/internal/artifact"
	"github.com/zatxm/gemini-web2api/internal/conversation"
	"github.com/zatxm/gemini-web2api/internal/store"
	"github.com/zatxm/gemini-web2api/internal/types"
	"github.com/zatxm/gemini-web2api/pkg/support"
)

const adminTokenTTL = 24 * time.Hour

// 登录态放内存,重启要重新登录
var (
	adminMu     sync.Mutex
	adminTokens = map[string]int64{}
)

func newAdminToken() string {
	token := support.RandHex(32)
	adminMu.Lock()
	adminTokens[token] = time.Now().Add(adminTokenTTL).Unix()
	adminMu.Unlock()
	return token
}

func checkAdmin(c *fhblade.Context) bool {
	auth := c.Request().Header("Authorization")
	if len(auth) > 7 && auth[:7] == "Bearer " {
		auth = auth[7:]
	}
	if auth == "" {
		return false
	}
	adminMu.Lock()
	defer adminMu.Unlock()
	exp, ok := adminTokens[auth]
	if !ok {
		return false
	}
	if exp < time.Now().Unix() {
		delete(adminTokens, auth)
		return false
	}
	return true
}

func adminDenied(c *fhblade.Context) error {
	return c.JSONAndStatus(http.StatusUnauthorized, types.ErrorResponse{
		Error: &types.CError{
			Message: "admin login required",
			CType:   "invalid_request_error",
			Code:    "unauthorized",
		},
	})
}

// DoAdminLogin serves POST /admin/login.
func DoAdminLogin(st *store.Store) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		var p struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&p); err != nil {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "params error",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		settings := st.Settings()
		if p.Username != settings.AdminUsername || p.Password != settings.AdminPassword {
			return c.JSONAndStatus(http.StatusUnauthorized, types.ErrorResponse{
				Error: &types.CError{
					Message: "bad username or password",
					CType:   "invalid_request_error",
					Code:    "unauthorized",
				},
			})
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{
			"token":      newAdminToken(),
			"expires_in": int64(adminTokenTTL / time.Second),
		})
	}
}

// DoAdminAccounts serves GET /admin/accounts.
func DoAdminAccounts(st *store.Store, pool *account.Pool) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		accounts := st.List()
		list := make([]fhblade.H, 0, len(accounts))
		for k := range accounts {
			a := accounts[k]
			list = append(list, fhblade.H{
				"id":           a.ID,
				"psid":         maskSecret(a.Psid),
				"label":        a.Label,
				"status":       a.Status,
				"failures":     a.Failures,
				"use_count":    a.UseCount,
				"in_use":       pool.InUse(a.ID),
				"last_success": a.LastSuccess,
				"last_failure": a.LastFailure,
				"created":      a.Created,
			})
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"accounts": list})
	}
}

// DoAdminDeleteAccount serves DELETE /admin/account/:id.
func DoAdminDeleteAccount(st *store.Store, pool *account.Pool) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		id := c.Get("id")
		if !st.Delete(id) {
			return c.JSONAndStatus(http.StatusNotFound, types.ErrorResponse{
				Error: &types.CError{
					Message: "account not found",
					CType:   "invalid_request_error",
					Code:    "not_found",
				},
			})
		}
		pool.Refresh()
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"success": true})
	}
}

// DoAdminStats serves GET /admin/stats.
func DoAdminStats(st *store.Store, bridge *conversation.Bridge, cache *artifact.Cache) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		healthy, degraded, expired := 0, 0, 0
		var uses int64
		accounts := st.List()
		for k := range accounts {
			switch accounts[k].Status {
			case store.StatusHealthy:
				healthy++
			case store.StatusDegraded:
				degraded++
			case store.StatusExpired:
				expired++
			}
			uses += accounts[k].UseCount
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{
			"accounts": fhblade.H{
				"total":    len(accounts),
				"healthy":  healthy,
				"degraded": degraded,
				"expired":  expired,
			},
			"conversations": bridge.Len(),
			"cached_files":  cache.Len(),
			"total_uses":    uses,
		})
	}
}

// DoAdminSettings serves GET /admin/settings.
func DoAdminSettings(st *store.Store) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		settings := st.Settings()
		return c.JSONAndStatus(http.StatusOK, fhblade.H{
			"admin_username": settings.AdminUsername,
			"api_key":        settings.ApiKey,
			"sync_token":     settings.SyncToken,
			"base_url":       settings.BaseUrl,
			"image_mode":     settings.ImageMode,
		})
	}
}

// DoAdminSaveSettings serves POST /admin/settings. Blank fields keep their
// current values.
func DoAdminSaveSettings(st *store.Store) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		var p store.Settings
		if err := c.ShouldBindJSON(&p); err != nil {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "params error",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		if p.ImageMode != "" && p.ImageMode != "url" && p.ImageMode != "b64" {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "image_mode must be url or b64",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		if err := st.UpdateSettings(p); err != nil {
			return c.JSONAndStatus(http.StatusInternalServerError, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "server_error",
					Code:    "store_error",
				},
			})
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"success": true})
	}
}

// DoAdminRegenSyncToken serves POST /admin/sync-token.
func DoAdminRegenSyncToken(st *store.Store) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		token, err := st.RegenSyncToken()
		if err != nil {
			return c.JSONAndStatus(http.StatusInternalServerError, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "server_error",
					Code:    "store_error",
				},
			})
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"sync_token": token})
	}
}

// DoAdminClearCache serves POST /admin/cache/clear.
func DoAdminClearCache(cache *artifact.Cache) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		if !checkAdmin(c) {
			return adminDenied(c)
		}
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"removed": cache.Clear()})
	}
}

func maskSecret(s string) string {
	if len(s) <= 10 {
		return "***"
	}
	return s[:10] + "..."
}
