package gemini

import (
	"context"
	"time"

	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/account"
	"github.com/zatxm/gemini-web2api/internal/store"
	"go.uber.org/zap"
)

// Rotate periodically refreshes __Secure-1PSIDTS for every workable account.
// The upstream expires the timestamp cookie after a while, rotation keeps a
// bundle alive without a new browser login.
func Rotate(ctx context.Context, st *store.Store, pool *account.Pool, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			rotateOnce(st, pool)
		}
	}
}

func rotateOnce(st *store.Store, pool *account.Pool) {
	accounts := st.List()
	changed := false
	for k := range accounts {
		a := accounts[k]
		if a.Status == store.StatusExpired {
			continue
		}
		ts, err := New(a.Psid, a.Psidts, a.Cookies).RotateTS()
		if err != nil {
			fhblade.Log.Warn("rotate psidts err", zap.Error(err), zap.String("id", a.ID))
			continue
		}
		if ts != "" && ts != a.Psidts {
			st.UpdatePsidts(a.ID, ts)
			changed = true
		}
	}
	if changed {
		pool.Refresh()
	}
}
