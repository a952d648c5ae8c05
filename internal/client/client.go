package client

import (
	"sync"

	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/config"
	tlsClient "github.com/zatxm/tls-client"
	"github.com/zatxm/tls-client/profiles"
	"go.uber.org/zap"
)

var (
	defaultTimeoutSeconds = 300
	CPool                 = sync.Pool{
		New: func() interface{} {
			timeout := defaultTimeoutSeconds
			if v := config.V(); v != nil && v.Chat.TimeoutSeconds > 0 {
				timeout = v.Chat.TimeoutSeconds
			}
			c, err := tlsClient.NewHttpClient(tlsClient.NewNoopLogger(), []tlsClient.HttpClientOption{
				tlsClient.WithTimeoutSeconds(timeout),
				tlsClient.WithClientProfile(profiles.Chrome_120),
			}...)
			if err != nil {
				fhblade.Log.Error("ClientPool error", zap.Error(err))
			}
			if v := config.V(); v != nil && v.ProxyUrl != "" {
				c.SetProxy(v.ProxyUrl)
			}
			return c
		},
	}
)
