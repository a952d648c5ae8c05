package gemini

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zatxm/gemini-web2api/internal/types"
)

const imagePlaceholderHost = "googleusercontent.com/image_generation_content"

var (
	cidPattern         = regexp.MustCompile(`"(c_[a-f0-9]+)"`)
	ridPattern         = regexp.MustCompile(`"(r_[a-f0-9]+)"`)
	rcidPattern        = regexp.MustCompile(`"(rc_[a-f0-9]+)"`)
	imagePlaceholderRe = regexp.MustCompile(`http://googleusercontent\.com/image_generation_content/\d+`)

	errNoBody = errors.New("no candidate body in response")
)

// ParseResponse digs the model output out of the batchexecute-style reply:
// newline-separated envelope arrays whose third cell is a stringified inner
// array. The inner array's [1] holds [cid rid], [4] the candidates.
func ParseResponse(body []byte) (*types.ModelOutput, error) {
	text := strings.TrimPrefix(string(body), ")]}'")
	var inners []gjson.Result
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		outer := gjson.Parse(line)
		if !outer.IsArray() {
			continue
		}
		for _, item := range outer.Array() {
			raw := item.Get("2")
			if raw.Type != gjson.String {
				continue
			}
			inner := gjson.Parse(raw.String())
			if inner.IsArray() {
				inners = append(inners, inner)
			}
		}
	}
	var main gjson.Result
	found := false
	for _, in := range inners {
		if c := in.Get("4"); c.Exists() && c.IsArray() && len(c.Array()) > 0 {
			main = in
			found = true
			break
		}
	}
	if !found {
		return nil, errNoBody
	}

	out := &types.ModelOutput{Meta: &types.SessionMeta{}}
	if m := main.Get("1"); m.IsArray() {
		arr := m.Array()
		if len(arr) > 0 {
			out.Meta.Cid = arr[0].String()
		}
		if len(arr) > 1 {
			out.Meta.Rid = arr[1].String()
		}
	}

	for i, cand := range main.Get("4").Array() {
		c := &types.Candidate{
			Rcid: cand.Get("0").String(),
			Text: cand.Get("1.0").String(),
		}
		if strings.Contains(c.Text, imagePlaceholderHost) {
			applyGeneratedImages(inners, i, c)
		}
		out.Candidates = append(out.Candidates, c)
	}
	if len(out.Candidates) == 0 {
		return nil, errNoBody
	}
	fillMetaFallback(out.Meta, text)
	if out.Meta.Rcid == "" {
		out.Meta.Rcid = out.Candidates[out.Chosen].Rcid
	}
	return out, nil
}

// applyGeneratedImages finds the envelope part that carries the image urls
// for candidate i and swaps the placeholder text for the cleaned reply.
func applyGeneratedImages(inners []gjson.Result, i int, c *types.Candidate) {
	for _, in := range inners {
		imgCand := in.Get("4").Get(strconv.Itoa(i))
		if !imgCand.Exists() {
			continue
		}
		list := imgCand.Get("12.7.0")
		if !list.IsArray() || len(list.Array()) == 0 {
			continue
		}
		if t := imgCand.Get("1.0"); t.Exists() {
			c.Text = strings.TrimSpace(imagePlaceholderRe.ReplaceAllString(t.String(), ""))
		}
		for _, gi := range list.Array() {
			u := gi.Get("0.3.3").String()
			if u == "" {
				continue
			}
			title := gi.Get("3.5").String()
			if title == "" {
				title = "[Generated Image]"
			}
			c.Images = append(c.Images, &types.GeneratedImage{URL: u, Title: title})
		}
		if len(c.Images) > 0 {
			return
		}
	}
	// 找不到图片体就只去掉占位串
	c.Text = strings.TrimSpace(imagePlaceholderRe.ReplaceAllString(c.Text, ""))
}

// fillMetaFallback pulls session ids straight from the raw body when the
// structured walk missed them.
func fillMetaFallback(m *types.SessionMeta, body string) {
	if m.Cid == "" {
		if g := cidPattern.FindStringSubmatch(body); len(g) > 1 {
			m.Cid = g[1]
		}
	}
	if m.Rid == "" {
		if g := ridPattern.FindStringSubmatch(body); len(g) > 1 {
			m.Rid = g[1]
		}
	}
	if m.Rcid == "" {
		if g := rcidPattern.FindStringSubmatch(body); len(g) > 1 {
			m.Rcid = g[1]
		}
	}
}

// isEmptyAck matches the body shape of a rejected-but-200 turn: a response
// id with no candidate content.
func isEmptyAck(body []byte) bool {
	s := string(body)
	hasRid := strings.Contains(s, `"r_`) || strings.Contains(s, `\"r_`)
	hasRcid := strings.Contains(s, `"rc_`) || strings.Contains(s, `\"rc_`)
	nullConv := strings.Contains(s, `[null,"r_`) || strings.Contains(s, `[null,\"r_`)
	return hasRid && !hasRcid && nullConv
}

var htmlErrorIndicators = []string{
	"<html",
	`<div id="infoDiv"`,
	"unusual traffic",
	"google.com/policies/terms",
	"我们的系统检测到",
	"异常流量",
}

func isHTMLError(body []byte) bool {
	s := string(body)
	for _, ind := range htmlErrorIndicators {
		if strings.Contains(s, ind) {
			return true
		}
	}
	return false
}

