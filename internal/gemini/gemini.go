package gemini

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/fhblade/tools"
	"github.com/zatxm/gemini-web2api/internal/client"
	"github.com/zatxm/gemini-web2api/internal/types"
	"github.com/zatxm/gemini-web2api/internal/vars"
	"github.com/zatxm/gemini-web2api/pkg/support"
	tlsClient "github.com/zatxm/tls-client"
	"go.uber.org/zap"
)

const (
	Provider = "gemini-web"

	InitUrl     = "https://gemini.google.com/app"
	GenerateUrl = "https://gemini.google.com/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate"
	RotateUrl   = "https://accounts.google.com/RotateCookies"
	UploadUrl   = "https://content-push.googleapis.com/upload"

	uploadPushID = "feeds/mcudyrk2a4khkz"
	rotateBody   = `[000,"-0000000000000000000"]`
)

var (
	// 上游拒绝或cookie失效
	ErrAuth = errors.New("gemini web rejected credentials")
	// 网络或限流之类,换号可重试
	ErrTransient = errors.New("gemini web transient failure")

	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"SNlM0e":"([^"]+)"`),
		regexp.MustCompile(`SNlM0e\\x22:\\x22([^\\]+)\\x22`),
	}
)

// UploadedFile is one image staged on the upstream content-push service.
type UploadedFile struct {
	ID   string
	Name string
}

// Chatter is the capability the chat handlers program against, so the
// unstable wire format stays inside this package.
type Chatter interface {
	Init() error
	Generate(prompt string, files []*UploadedFile, model string, meta *types.SessionMeta) (*types.ModelOutput, error)
}

// Client drives the Gemini web app with one account's cookie bundle.
type Client struct {
	Psid    string
	Psidts  string
	Cookies map[string]string
	token   string
}

var _ Chatter = (*Client)(nil)

func New(psid, psidts string, cookies map[string]string) *Client {
	return &Client{Psid: psid, Psidts: psidts, Cookies: cookies}
}

// CookieHeader exposes the assembled Cookie value for sibling requests
// that need the account's login, such as generated image downloads.
func (g *Client) CookieHeader() string {
	return g.cookieHeader()
}

func (g *Client) cookieHeader() string {
	var b strings.Builder
	b.WriteString("__Secure-1PSID=")
	b.WriteString(g.Psid)
	if g.Psidts != "" {
		b.WriteString("; __Secure-1PSIDTS=")
		b.WriteString(g.Psidts)
	}
	for k, v := range g.Cookies {
		if k == "__Secure-1PSID" || k == "__Secure-1PSIDTS" {
			continue
		}
		b.WriteString("; ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}

func baseHeader() http.Header {
	ip := support.GenerateRandIp()
	return http.Header{
		"accept-encoding":    {vars.AcceptEncoding},
		"accept-language":    {"en-US,en;q=0.9"},
		"origin":             {"https://gemini.google.com"},
		"referer":            {"https://gemini.google.com/"},
		"user-agent":         {vars.UserAgent},
		"x-same-domain":      {"1"},
		"x-forwarded-for":    {ip},
		"x-real-ip":          {ip},
		"sec-fetch-dest":     {"empty"},
		"sec-fetch-mode":     {"cors"},
		"sec-fetch-site":     {"same-origin"},
		"sec-ch-ua-mobile":   {"?0"},
		"sec-ch-ua-platform": {`"Linux"`},
	}
}

// Init loads the app page and pulls the SNlM0e request token. A page
// without the token means the cookies no longer carry a login.
func (g *Client) Init() error {
	req, err := http.NewRequest(http.MethodGet, InitUrl, nil)
	if err != nil {
		return err
	}
	req.Header = baseHeader()
	req.Header.Set("accept", vars.AcceptHtml)
	req.Header.Set("Cookie", g.cookieHeader())
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		fhblade.Log.Error("gemini web init req err", zap.Error(err))
		return ErrTransient
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrAuth
	}
	if resp.StatusCode != http.StatusOK {
		fhblade.Log.Error("gemini web init status err", zap.Int("status", resp.StatusCode))
		return ErrTransient
	}
	body, err := tools.ReadAll(resp.Body)
	if err != nil {
		return ErrTransient
	}
	token := extractToken(body)
	if token == "" {
		return ErrAuth
	}
	g.token = token
	return nil
}

// extractToken scans inline scripts for the SNlM0e nonce.
func extractToken(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		found := ""
		doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := sel.Text()
			if !strings.Contains(text, "SNlM0e") {
				return true
			}
			for _, re := range tokenPatterns {
				if m := re.FindStringSubmatch(text); len(m) > 1 {
					found = m[1]
					return false
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	// 保底直接全文匹配
	for _, re := range tokenPatterns {
		if m := re.FindSubmatch(body); len(m) > 1 {
			return tools.BytesToString(m[1])
		}
	}
	return ""
}

// Generate runs one turn against StreamGenerate and parses the envelope.
func (g *Client) Generate(prompt string, files []*UploadedFile, model string, meta *types.SessionMeta) (*types.ModelOutput, error) {
	if g.token == "" {
		if err := g.Init(); err != nil {
			return nil, err
		}
	}
	payload, err := buildEnvelope(prompt, files, ModelID(model), g.token, meta)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("f.req", payload)
	req, err := http.NewRequest(http.MethodPost, GenerateUrl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header = baseHeader()
	req.Header.Set("accept", vars.AcceptAll)
	req.Header.Set("content-type", vars.ContentTypeForm)
	req.Header.Set("Cookie", g.cookieHeader())
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		fhblade.Log.Error("gemini web generate req err", zap.Error(err))
		return nil, ErrTransient
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrTransient
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrAuth
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fhblade.Log.Error("gemini web generate read err", zap.Error(err))
		return nil, ErrTransient
	}
	if resp.StatusCode != http.StatusOK {
		fhblade.Log.Error("gemini web generate status err",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("data", truncate(body, 512)))
		if isHTMLError(body) {
			return nil, ErrAuth
		}
		return nil, ErrTransient
	}
	if isHTMLError(body) {
		return nil, ErrAuth
	}
	out, err := ParseResponse(body)
	if err != nil {
		if isEmptyAck(body) {
			// 正常状态码但没有候选内容,一般是登录态已废
			return nil, ErrAuth
		}
		fhblade.Log.Error("gemini web generate parse err",
			zap.Error(err),
			zap.ByteString("data", truncate(body, 512)))
		return nil, ErrTransient
	}
	return out, nil
}

// RotateTS refreshes __Secure-1PSIDTS, returning the new value when the
// upstream issues one.
func (g *Client) RotateTS() (string, error) {
	req, err := http.NewRequest(http.MethodPost, RotateUrl, strings.NewReader(rotateBody))
	if err != nil {
		return "", err
	}
	req.Header = http.Header{
		"content-type": {vars.ContentTypeJSON},
		"user-agent":   {vars.UserAgent},
	}
	req.Header.Set("Cookie", g.cookieHeader())
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("rotate cookies status error")
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == "__Secure-1PSIDTS" {
			return ck.Value, nil
		}
	}
	return "", nil
}

// Upload stages image bytes on the content-push service and returns the id
// the generate envelope references.
func (g *Client) Upload(name string, data []byte) (*UploadedFile, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	part.Write(data)
	writer.Close()
	req, err := http.NewRequest(http.MethodPost, UploadUrl, &buf)
	if err != nil {
		return nil, err
	}
	req.Header = http.Header{
		"push-id":      {uploadPushID},
		"user-agent":   {vars.UserAgent},
		"content-type": {writer.FormDataContentType()},
	}
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		fhblade.Log.Error("gemini web upload req err", zap.Error(err), zap.String("name", name))
		return nil, ErrTransient
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fhblade.Log.Error("gemini web upload status err", zap.Int("status", resp.StatusCode))
		return nil, ErrTransient
	}
	body, err := tools.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrTransient
	}
	return &UploadedFile{ID: strings.TrimSpace(tools.BytesToString(body)), Name: name}, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
