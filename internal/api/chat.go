package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/account"
	"github.com/zatxm/gemini-web2api/internal/artifact"
	"github.com/zatxm/gemini-web2api/internal/conversation"
	"github.com/zatxm/gemini-web2api/internal/gemini"
	"github.com/zatxm/gemini-web2api/internal/store"
	"github.com/zatxm/gemini-web2api/internal/types"
	"github.com/zatxm/gemini-web2api/internal/vars"
	"go.uber.org/zap"
)

const streamChunkRunes = 64

// DoChatCompletions serves POST /v1/chat/completions on top of the web app.
func DoChatCompletions(st *store.Store, pool *account.Pool, bridge *conversation.Bridge, cache *artifact.Cache) func(*fhblade.Context) error {
	return func(c *fhblade.Context) error {
		settings := st.Settings()
		if !checkBearer(c, settings.ApiKey) {
			return c.JSONAndStatus(http.StatusUnauthorized, types.ErrorResponse{
				Error: &types.CError{
					Message: "invalid api key",
					CType:   "invalid_request_error",
					Code:    "invalid_api_key",
				},
			})
		}
		var p types.CompletionRequest
		if err := c.ShouldBindJSON(&p); err != nil {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "params error",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		if len(p.Messages) == 0 {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: "messages required",
					CType:   "invalid_request_error",
					Code:    "invalid_parameter",
				},
			})
		}
		history, images, err := normalizeMessages(p.Messages)
		if err != nil {
			return c.JSONAndStatus(http.StatusBadRequest, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "invalid_request_error",
					Code:    "unsupported_content",
				},
			})
		}

		key := conversation.Key(history)
		h, err := bridge.Resolve(key)
		if err != nil {
			if errors.Is(err, conversation.ErrConversationBusy) {
				return c.JSONAndStatus(http.StatusConflict, types.ErrorResponse{
					Error: &types.CError{
						Message: err.Error(),
						CType:   "invalid_request_error",
						Code:    "conversation_busy",
					},
				})
			}
			return c.JSONAndStatus(http.StatusConflict, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "invalid_request_error",
					Code:    "session_lost",
				},
			})
		}

		var lease *account.Lease
		if h.AccountID != "" {
			lease, err = pool.AcquireByID(h.AccountID)
		} else {
			lease, err = pool.Acquire()
		}
		if err != nil {
			bridge.Abort(h)
			return c.JSONAndStatus(http.StatusServiceUnavailable, types.ErrorResponse{
				Error: &types.CError{
					Message: err.Error(),
					CType:   "server_error",
					Code:    "no_healthy_account",
				},
			})
		}

		files := make([]*gemini.UploadedFile, 0, len(images))
		g := gemini.New(lease.Psid, lease.Psidts, lease.Cookies)
		for k := range images {
			f, upErr := g.Upload(images[k].name, images[k].data)
			if upErr != nil {
				pool.Release(lease, account.OutcomeTransient)
				bridge.Abort(h)
				return c.JSONAndStatus(http.StatusBadGateway, types.ErrorResponse{
					Error: &types.CError{
						Message: "image upload failed",
						CType:   "server_error",
						Code:    "upstream_error",
					},
				})
			}
			files = append(files, f)
		}

		prompt := buildPrompt(history, h.Meta != nil)
		out, err := g.Generate(prompt, files, p.Model, h.Meta)
		if err != nil {
			if errors.Is(err, gemini.ErrAuth) {
				pool.Release(lease, account.OutcomeAuthFailure)
			} else {
				pool.Release(lease, account.OutcomeTransient)
			}
			if h.Meta != nil {
				// 续聊的帐号废了,整个会话只能重来
				if errors.Is(err, gemini.ErrAuth) {
					bridge.Evict(h)
					return c.JSONAndStatus(http.StatusConflict, types.ErrorResponse{
						Error: &types.CError{
							Message: "conversation account no longer works, start a new conversation",
							CType:   "invalid_request_error",
							Code:    "session_lost",
						},
					})
				}
			} else {
				// 新会话换一个帐号重试一次
				retry, rErr := pool.Acquire(lease.ID)
				if rErr == nil {
					g = gemini.New(retry.Psid, retry.Psidts, retry.Cookies)
					out, err = g.Generate(prompt, files, p.Model, nil)
					if err != nil {
						if errors.Is(err, gemini.ErrAuth) {
							pool.Release(retry, account.OutcomeAuthFailure)
						} else {
							pool.Release(retry, account.OutcomeTransient)
						}
					} else {
						lease = retry
					}
				}
			}
			if err != nil {
				bridge.Abort(h)
				fhblade.Log.Error("chat generate err", zap.Error(err), zap.String("model", p.Model))
				return c.JSONAndStatus(http.StatusServiceUnavailable, types.ErrorResponse{
					Error: &types.CError{
						Message: "upstream temporarily unavailable",
						CType:   "server_error",
						Code:    "upstream_error",
					},
				})
			}
		}

		reply := appendImages(out, g.CookieHeader(), cache, &settings)
		nextKey := conversation.NextKey(history, reply)

		if p.Stream {
			return streamCompletion(c, pool, bridge, h, lease, out, reply, nextKey, p.Model)
		}
		pool.Release(lease, account.OutcomeSuccess)
		bridge.Complete(h, lease.ID, out.Meta, nextKey)
		prompt4 := len(prompt) / 4
		reply4 := len(reply) / 4
		return c.JSONAndStatus(http.StatusOK, &types.CompletionResponse{
			ID: uuid.NewString(),
			Choices: []*types.Choice{
				{
					Index: 0,
					Message: &types.ResMessageOrDelta{
						Role:    "assistant",
						Content: reply,
					},
					FinishReason: "stop",
				},
			},
			Created: time.Now().Unix(),
			Model:   p.Model,
			Object:  "chat.completion",
			Usage: &types.Usage{
				PromptTokens:     prompt4,
				CompletionTokens: reply4,
				TotalTokens:      prompt4 + reply4,
			},
		})
	}
}

// appendImages downloads生成的图片进缓存,以markdown形式附在回复后
func appendImages(out *types.ModelOutput, cookieHeader string, cache *artifact.Cache, settings *store.Settings) string {
	reply := out.Text()
	imgs := out.Images()
	if len(imgs) == 0 {
		return reply
	}
	for k := range imgs {
		img := imgs[k]
		id, err := cache.StoreURL(img.URL, cookieHeader)
		if err != nil {
			fhblade.Log.Warn("cache generated image err", zap.Error(err), zap.String("url", img.URL))
			continue
		}
		var ref string
		if settings.ImageMode == "b64" {
			data, rErr := cache.ReadBytes(id)
			if rErr != nil {
				continue
			}
			ref = "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
		} else {
			ref = strings.TrimSuffix(settings.BaseUrl, "/") + "/file/" + id
		}
		title := img.Title
		if title == "" {
			title = "image"
		}
		reply += "\n\n![" + title + "](" + ref + ")"
	}
	return reply
}

// streamCompletion replays the finished turn as sse chunks. The continuation
// token is only recorded once the client has received the whole reply, and
// the slot outcome reflects whether delivery finished.
func streamCompletion(c *fhblade.Context, pool *account.Pool, bridge *conversation.Bridge, h *conversation.Handle, lease *account.Lease, out *types.ModelOutput, reply, nextKey, model string) error {
	rw := c.Response().Rw()
	flusher, ok := rw.(http.Flusher)
	if !ok {
		pool.Release(lease, account.OutcomeSuccess)
		bridge.Abort(h)
		return c.JSONAndStatus(http.StatusNotImplemented, types.ErrorResponse{
			Error: &types.CError{
				Message: "Flushing not supported",
				CType:   "invalid_systems_error",
				Code:    "systems_error",
			},
		})
	}
	header := rw.Header()
	header.Set("Content-Type", vars.ContentTypeStream)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	rw.WriteHeader(200)

	id := uuid.NewString()
	now := time.Now().Unix()
	delivered := true
	send := func(delta *types.ResMessageOrDelta, finish string) bool {
		chunk := &types.CompletionResponse{
			ID:      id,
			Choices: []*types.Choice{{Index: 0, Delta: delta, FinishReason: finish}},
			Created: now,
			Model:   model,
			Object:  "chat.completion.chunk",
		}
		outJson, _ := fhblade.Json.Marshal(chunk)
		if _, err := fmt.Fprintf(rw, "data: %s\n\n", outJson); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(&types.ResMessageOrDelta{Role: "assistant", Content: ""}, "") {
		delivered = false
	}
	runes := []rune(reply)
	for i := 0; delivered && i < len(runes); i += streamChunkRunes {
		end := i + streamChunkRunes
		if end > len(runes) {
			end = len(runes)
		}
		if !send(&types.ResMessageOrDelta{Content: string(runes[i:end])}, "") {
			delivered = false
		}
	}
	if delivered && !send(&types.ResMessageOrDelta{}, "stop") {
		delivered = false
	}
	if !delivered {
		// 没推完就断开,续链标识不能入账
		pool.Release(lease, account.OutcomeTransient)
		bridge.Abort(h)
		return nil
	}
	fmt.Fprint(rw, "data: [DONE]\n\n")
	flusher.Flush()
	pool.Release(lease, account.OutcomeSuccess)
	bridge.Complete(h, lease.ID, out.Meta, nextKey)
	return nil
}

func checkBearer(c *fhblade.Context, want string) bool {
	if want == "" {
		return false
	}
	auth := c.Request().Header("Authorization")
	auth = strings.TrimPrefix(auth, "Bearer ")
	return auth == want
}
