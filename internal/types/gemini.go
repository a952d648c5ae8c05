package types

// 网页端会话的续链标识,每轮对话返回一组新的
type SessionMeta struct {
	Cid  string `json:"cid"`  // c_xxx 会话
	Rid  string `json:"rid"`  // r_xxx 回复
	Rcid string `json:"rcid"` // rc_xxx 候选
}

func (m *SessionMeta) Empty() bool {
	return m == nil || m.Cid == ""
}

type GeneratedImage struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Alt   string `json:"alt,omitempty"`
}

type Candidate struct {
	Rcid   string            `json:"rcid"`
	Text   string            `json:"text"`
	Images []*GeneratedImage `json:"images,omitempty"`
}

// 一次StreamGenerate调用解析后的结果
type ModelOutput struct {
	Meta       *SessionMeta `json:"meta"`
	Candidates []*Candidate `json:"candidates"`
	Chosen     int          `json:"chosen"`
}

func (o *ModelOutput) Text() string {
	if len(o.Candidates) == 0 {
		return ""
	}
	return o.Candidates[o.Chosen].Text
}

func (o *ModelOutput) Images() []*GeneratedImage {
	if len(o.Candidates) == 0 {
		return nil
	}
	return o.Candidates[o.Chosen].Images
}
