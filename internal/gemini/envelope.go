package gemini

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/internal/types"
)

// buildEnvelope assembles the f.req form value for StreamGenerate. The
// layout is positional and undocumented; the continuation cell carries the
// previous turn's [cid rid rcid] so the upstream threads the session.
func buildEnvelope(prompt string, files []*UploadedFile, modelID, token string, meta *types.SessionMeta) (string, error) {
	var item0 []interface{}
	if len(files) > 0 {
		uploads := make([]interface{}, 0, len(files))
		for _, f := range files {
			uploads = append(uploads, []interface{}{[]interface{}{f.ID}, f.Name})
		}
		item0 = []interface{}{prompt, 0, nil, uploads, nil, nil, 0}
	} else {
		item0 = []interface{}{prompt, 0, nil, nil, nil, nil, 0}
	}

	contextCell := []interface{}{nil, nil, nil, nil, nil, nil, nil, nil, nil, ""}
	if !meta.Empty() {
		contextCell = []interface{}{meta.Cid, meta.Rid, meta.Rcid, nil, nil, nil, nil, nil, nil, ""}
	}

	inner := []interface{}{
		item0,
		[]interface{}{"en"},
		contextCell,
		token,
		modelID,
		nil,
		[]interface{}{0},
		1, nil, nil, 9, 0, nil, nil, nil, nil, nil,
		[]interface{}{[]interface{}{1}},
		0, nil, nil, nil, nil, nil, nil, nil, nil, 1, nil, nil,
		[]interface{}{4},
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
		[]interface{}{2},
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, 0, nil, nil, nil, nil, nil,
		uuid.NewString(),
		nil,
		[]interface{}{},
	}
	innerJson, err := fhblade.Json.Marshal(inner)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`[null,%q]`, innerJson), nil
}
