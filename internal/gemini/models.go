package gemini

const DefaultModel = "gemini-2.5-flash"

// 网页端模型标识
var modelIDs = map[string]string{
	"gemini-3-flash":   "1640bdc9f7ef4826",
	"gemini-2.5-flash": "e6fa609c3fa255c0",
	"gemini-2.5-pro":   "9d8ca3786ebdfbea",
	"gemini-2-flash":   "203e6bb81620bcfe",
	"gemini-flash":     "1640bdc9f7ef4826",
	"gemini-pro":       "9d8ca3786ebdfbea",
}

var modelOrder = []string{
	"gemini-3-flash",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2-flash",
}

// ModelID resolves a logical model name to the upstream id, falling back to
// the default model for unknown names.
func ModelID(name string) string {
	if id, ok := modelIDs[name]; ok {
		return id
	}
	return modelIDs[DefaultModel]
}

// Models lists the logical model names the service advertises.
func Models() []string {
	out := make([]string, len(modelOrder))
	copy(out, modelOrder)
	return out
}
