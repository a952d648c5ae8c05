package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/account"
	"github.com/zatxm/gemini-web2api/internal/api"
	"github.com/zatxm/gemini-web2api/internal/artifact"
	"github.com/zatxm/gemini-web2api/internal/config"
	"github.com/zatxm/gemini-web2api/internal/conversation"
	"github.com/zatxm/gemini-web2api/internal/gemini"
	"github.com/zatxm/gemini-web2api/internal/store"
)

func main() {
	// parse config
	var configFile string
	flag.StringVar(&configFile, "c", "", "where is config filepath")
	flag.Parse()
	var cfg *config.Config
	if configFile == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Parse(configFile)
		if err != nil {
			fmt.Println(err)
			return
		}
	}

	st, err := store.Open(cfg.DataFile)
	if err != nil {
		fmt.Println(err)
		return
	}
	pool := account.NewPool(st, cfg.Pool.SlotsPerAccount, cfg.Pool.DegradedAfter, cfg.Pool.ExpiredAfter)
	bridge := conversation.NewBridge(time.Duration(cfg.Chat.ConversationTTLMinutes)*time.Minute, pool.Expired)
	cache, err := artifact.New(cfg.Artifact.Path, cfg.Artifact.MaxEntries)
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// __Secure-1PSIDTS会过期,后台定时续
	go gemini.Rotate(ctx, st, pool, time.Duration(cfg.Pool.RotateMinutes)*time.Minute)

	// 清理闲置会话
	go func() {
		tick := time.NewTicker(5 * time.Minute)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				bridge.Sweep()
			}
		}
	}()

	app := fhblade.New()

	// ping
	app.Get("/ping", func(c *fhblade.Context) error {
		return c.JSONAndStatus(http.StatusOK, fhblade.H{"ping": "ok"})
	})

	// openai风格接口
	app.Post("/v1/chat/completions", api.DoChatCompletions(st, pool, bridge, cache))
	app.Get("/v1/models", api.DoListModels(st))

	// 浏览器插件推cookie
	app.Post("/sync/cookie", api.DoSyncCookie(st, pool))

	// 生成图片
	app.Get("/file/:id", api.DoArtifact(cache))

	// 管理接口
	app.Post("/admin/login", api.DoAdminLogin(st))
	app.Get("/admin/accounts", api.DoAdminAccounts(st, pool))
	app.Delete("/admin/account/:id", api.DoAdminDeleteAccount(st, pool))
	app.Get("/admin/stats", api.DoAdminStats(st, bridge, cache))
	app.Get("/admin/settings", api.DoAdminSettings(st))
	app.Post("/admin/settings", api.DoAdminSaveSettings(st))
	app.Post("/admin/sync-token", api.DoAdminRegenSyncToken(st))
	app.Post("/admin/cache/clear", api.DoAdminClearCache(cache))

	// run
	var runErr error
	if cfg.HttpsInfo.Enable {
		runErr = app.RunTLS(cfg.Port, cfg.HttpsInfo.PemFile, cfg.HttpsInfo.KeyFile)
	} else {
		runErr = app.Run(cfg.Port)
	}
	if runErr != nil {
		fmt.Println(runErr)
	}
}
