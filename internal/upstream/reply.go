package upstream

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// replyFields are probed in order, first at the top level, then under "data".
var replyFields = []string{"result", "answer", "reply", "response"}

// ExtractReply pulls the assistant reply out of a conversation run
// response. It reports false when no known field is present, in which case
// the returned text is the whole body indented with two spaces.
//
// The whole-body fallback is deprecated and Reply.Fallback marks turns
// that used it. It re-indents the raw token text without re-encoding
// values, so numbers keep their source spelling ("1.0" stays "1.0", not
// "1") and \uXXXX escapes stay escaped. It is therefore not byte-identical
// to a re-serialized document.
func ExtractReply(body []byte) (string, bool) {
	for _, prefix := range []string{"", "data."} {
		for _, f := range replyFields {
			if s, ok := truthy(gjson.GetBytes(body, prefix+f)); ok {
				return s, true
			}
		}
	}
	return indent(body), false
}

// truthy reports whether r holds a usable value. Strings must be non-empty;
// null, false and zero are ignored; objects and arrays yield their JSON text.
func truthy(r gjson.Result) (string, bool) {
	switch r.Type {
	case gjson.String:
		return r.Str, r.Str != ""
	case gjson.Number:
		return r.Raw, r.Num != 0
	case gjson.True:
		return r.Raw, true
	case gjson.JSON:
		return r.Raw, true
	default:
		return "", false
	}
}

func indent(body []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(body), "", "  "); err != nil {
		return string(body)
	}
	return buf.String()
}
