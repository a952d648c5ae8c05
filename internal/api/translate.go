package api

import (
	"encoding/base64"
	"errors"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/fhblade/tools"
	"github.com/zatxm/gemini-web2api/internal/client"
	"github.com/zatxm/gemini-web2api/internal/conversation"
	"github.com/zatxm/gemini-web2api/internal/types"
	"github.com/zatxm/gemini-web2api/internal/vars"
	"github.com/zatxm/gemini-web2api/pkg/support"
	tlsClient "github.com/zatxm/tls-client"
	"go.uber.org/zap"
)

var ErrUnsupportedContent = errors.New("unsupported message content")

// stagedImage is一张随请求附带的图片,已解析为字节
type stagedImage struct {
	name string
	data []byte
}

// normalizeMessages flattens openai格式的messages,文字归并成角色序列,
// 图片只取最后一条消息的(历史轮的图片上游会话里已经有了)
func normalizeMessages(messages []*types.ReqMessage) ([]conversation.RoleText, []*stagedImage, error) {
	history := make([]conversation.RoleText, 0, len(messages))
	var images []*stagedImage
	last := len(messages) - 1
	for k := range messages {
		m := messages[k]
		role := m.Role
		if role == "" {
			role = "user"
		}
		var text string
		switch ct := m.Content.(type) {
		case nil:
		case string:
			text = ct
		case []interface{}:
			parts, err := bindParts(ct)
			if err != nil {
				return nil, nil, err
			}
			var b strings.Builder
			for _, part := range parts {
				switch part.Type {
				case "text":
					if b.Len() > 0 {
						b.WriteString("\n")
					}
					b.WriteString(part.Text)
				case "image_url":
					if part.ImageURL == nil || part.ImageURL.URL == "" {
						return nil, nil, ErrUnsupportedContent
					}
					if k != last {
						continue
					}
					img, err := stageImage(part.ImageURL.URL)
					if err != nil {
						return nil, nil, err
					}
					images = append(images, img)
				default:
					return nil, nil, ErrUnsupportedContent
				}
			}
			text = b.String()
		default:
			return nil, nil, ErrUnsupportedContent
		}
		history = append(history, conversation.RoleText{Role: role, Text: text})
	}
	return history, images, nil
}

func bindParts(raw []interface{}) ([]*types.ContentPart, error) {
	js, err := fhblade.Json.Marshal(raw)
	if err != nil {
		return nil, ErrUnsupportedContent
	}
	var parts []*types.ContentPart
	if err := fhblade.Json.Unmarshal(js, &parts); err != nil {
		return nil, ErrUnsupportedContent
	}
	return parts, nil
}

// stageImage turns an image_url part into bytes, either decoding a data url
// or fetching a remote one.
func stageImage(u string) (*stagedImage, error) {
	if support.EqImageBase64(u) {
		dataParts := strings.SplitN(u, ";base64,", 2)
		data, err := base64.StdEncoding.DecodeString(dataParts[1])
		if err != nil {
			return nil, ErrUnsupportedContent
		}
		ext := strings.TrimPrefix(dataParts[0], "data:image/")
		if ext == "" || len(ext) > 4 {
			ext = "png"
		}
		return &stagedImage{name: "image." + ext, data: data}, nil
	}
	if !support.EqURL(u) {
		return nil, ErrUnsupportedContent
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, ErrUnsupportedContent
	}
	req.Header = http.Header{
		"accept":     {vars.AcceptImage},
		"user-agent": {vars.UserAgent},
	}
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		fhblade.Log.Error("fetch request image err", zap.Error(err), zap.String("url", u))
		return nil, ErrUnsupportedContent
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ErrUnsupportedContent
	}
	data, err := tools.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrUnsupportedContent
	}
	name := "image.png"
	if i := strings.LastIndex(u, "/"); i >= 0 && i < len(u)-1 {
		if base := strings.SplitN(u[i+1:], "?", 2)[0]; base != "" {
			name = base
		}
	}
	return &stagedImage{name: name, data: data}, nil
}

// buildPrompt renders the client history as one upstream prompt. A continued
// conversation only needs the newest turn, the rest lives upstream.
func buildPrompt(history []conversation.RoleText, continuing bool) string {
	if len(history) == 0 {
		return ""
	}
	if continuing || len(history) == 1 {
		return history[len(history)-1].Text
	}
	var b strings.Builder
	for k := range history {
		m := history[k]
		if m.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Text)
	}
	return b.String()
}
