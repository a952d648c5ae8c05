package types

type CompletionRequest struct {
	Messages    []*ReqMessage `json:"messages" binding:"required"`
	Model       string        `json:"model" binding:"required"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	N           int           `json:"n,omitempty"`
	Stop        interface{}   `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	User        string        `json:"user,omitempty"`
}

type ReqMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
	Name    string      `json:"name,omitempty"`
}

// content数组里的一项,type为text或image_url
type ContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *ImageDataURL `json:"image_url,omitempty"`
}

type ImageDataURL struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error *CError `json:"error"`
}

type CError struct {
	Message string `json:"message"`
	CType   string `json:"type"`
	Param   string `json:"param"`
	Code    string `json:"code"`
}

type CompletionResponse struct {
	ID                string    `json:"id"`
	Choices           []*Choice `json:"choices"`
	Created           int64     `json:"created"`
	Model             string    `json:"model"`
	SystemFingerprint string    `json:"system_fingerprint,omitempty"`
	Object            string    `json:"object"`
	Usage             *Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int                `json:"index"`
	Message      *ResMessageOrDelta `json:"message,omitempty"`
	LogProbs     interface{}        `json:"logprobs"`
	FinishReason string             `json:"finish_reason,omitempty"`
	Delta        *ResMessageOrDelta `json:"delta,omitempty"`
}

type ResMessageOrDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ModelsResponse struct {
	Object string   `json:"object"`
	Data   []*Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
