package workflow

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// DefaultFields lists the candidate result keys in priority order.
var DefaultFields = []string{"output", "result", "content", "text", "response", "answer"}

// Kind identifies the shape of a workflow payload.
type Kind int

const (
	KindEmpty Kind = iota
	KindPlainText
	KindJSONString
	KindObject
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindPlainText:
		return "plain_text"
	case KindJSONString:
		return "json_string"
	case KindObject:
		return "object"
	case KindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Payload is the decoded data field of a workflow response.
type Payload struct {
	Kind Kind

	// Plain holds the string for KindPlainText.
	Plain string

	// Value holds the JSON value for KindJSONString (the decoded inner
	// document), KindObject and KindScalar.
	Value gjson.Result
}

// ParsePayload classifies raw.
func ParsePayload(raw json.RawMessage) Payload {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Payload{Kind: KindEmpty}
	}
	if !gjson.ValidBytes(trimmed) {
		return Payload{Kind: KindPlainText, Plain: string(raw)}
	}

	value := gjson.ParseBytes(trimmed)
	switch {
	case value.Type == gjson.String:
		if gjson.Valid(value.Str) {
			return Payload{Kind: KindJSONString, Value: gjson.Parse(value.Str)}
		}
		return Payload{Kind: KindPlainText, Plain: value.Str}
	case value.IsObject(), value.IsArray():
		return Payload{Kind: KindObject, Value: value}
	default:
		return Payload{Kind: KindScalar, Value: value}
	}
}

// Text extracts the report text using fields as the candidate keys.
func (p Payload) Text(fields []string) string {
	switch p.Kind {
	case KindEmpty:
		return ""
	case KindPlainText:
		return p.Plain
	default:
		return extract(p.Value, fields)
	}
}

// Normalize is ParsePayload(raw).Text(fields).
func Normalize(raw json.RawMessage, fields []string) string {
	return ParsePayload(raw).Text(fields)
}

func extract(value gjson.Result, fields []string) string {
	switch {
	case value.Type == gjson.String:
		return value.Str
	case value.IsObject():
		members := objectMembers(value)
		for _, field := range fields {
			if v, ok := members[field]; ok && truthy(v) {
				return stringify(v)
			}
		}
		return indent(value.Raw)
	case value.IsArray():
		return indent(value.Raw)
	default:
		return strings.TrimSpace(value.Raw)
	}
}

// objectMembers indexes the top-level keys of obj. Later duplicates win.
func objectMembers(obj gjson.Result) map[string]gjson.Result {
	members := make(map[string]gjson.Result)
	obj.ForEach(func(key, value gjson.Result) bool {
		members[key.String()] = value
		return true
	})
	return members
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	default:
		return false
	}
}

func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.JSON:
		return string(pretty.Ugly([]byte(v.Raw)))
	default:
		return v.Raw
	}
}

func indent(raw string) string {
	out := pretty.PrettyOptions([]byte(raw), &pretty.Options{
		Width:  80,
		Indent: "  ",
	})
	return strings.TrimRight(string(out), "\n")
}
