package diagnostic

import (
	"bytes"
	"encoding/json"
)

// ToolCategories is the fixed set of tool lists kept in a snapshot.
var ToolCategories = []string{"packaging", "paidTraffic", "content", "funnel", "technical", "sales", "product"}

var sectionKeys = []string{"intro", "products", "competency", "finance"}

// Compact projects arbitrary input onto the snapshot whitelist. Every
// whitelisted key is present in the result: sections default to an empty
// object, tool categories and the plan to an empty list. Values of the wrong
// shape are replaced by their default, so Compact(Compact(x)) equals
// Compact(x).
func Compact(raw any) map[string]any {
	d, _ := raw.(map[string]any)
	out := make(map[string]any, len(sectionKeys)+2)
	for _, key := range sectionKeys {
		out[key] = objectOr(d[key])
	}

	src, _ := d["tools"].(map[string]any)
	tools := make(map[string]any, len(ToolCategories)+1)
	for _, cat := range ToolCategories {
		tools[cat] = listOr(src[cat])
	}
	tools["priorities"] = objectOr(src["priorities"])
	out["tools"] = tools

	out["plan"] = listOr(d["plan"])
	return out
}

// compact is the projection Project runs.
var compact = Compact

// Project is Compact guarded against any failure: if compaction panics the
// original value is passed through untouched.
func Project(raw any) (snapshot any) {
	defer func() {
		if r := recover(); r != nil {
			snapshot = raw
		}
	}()
	return compact(raw)
}

// ProjectJSON decodes raw JSON (numbers kept exact) and projects it. Empty or
// invalid input is treated as a non-object and yields the defaulted snapshot.
func ProjectJSON(raw json.RawMessage) any {
	var v any
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			v = nil
		}
	}
	return Project(v)
}

func objectOr(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func listOr(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}
