package gateway

import (
	"encoding/json"
	"strings"
)

// payload はバックエンドのエラー応答から抽出したコードとメッセージ。
// バックエンドごとに形が異なるため、以下のいずれの位置からも読み取る。
//
//	{"code": "..."} / {"error_code": "..."}
//	{"error": "..."} / {"error": {"code": "...", "message": "...", "details": {"code": "..."}}}
//	{"detail": "..."} / {"detail": {"code": "..."}}
//	{"message": "..."}
type payload struct {
	codes    []string
	messages []string
	// texts は応答中のすべての文字列値。フィールドに埋め込まれたコードの検出に使う。
	texts []string
}

// parsePayload は応答ボディを解析する。JSONでなければボディ全体をメッセージとして扱う。
func parsePayload(body []byte) payload {
	var p payload

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		if s := strings.TrimSpace(string(body)); s != "" {
			p.messages = append(p.messages, s)
			p.texts = append(p.texts, s)
		}
		return p
	}

	collectTexts(raw, &p.texts)

	obj, ok := raw.(map[string]any)
	if !ok {
		if s, ok := raw.(string); ok && s != "" {
			p.messages = append(p.messages, s)
		}
		return p
	}

	p.addCode(obj["code"])
	p.addCode(obj["error_code"])
	p.addNested(obj["error"])
	p.addNested(obj["detail"])
	p.addMessage(obj["message"])
	return p
}

// addNested は error / detail フィールドを解析する。
func (p *payload) addNested(v any) {
	switch t := v.(type) {
	case string:
		p.addMessage(t)
	case map[string]any:
		p.addCode(t["code"])
		p.addMessage(t["message"])
		p.addMessage(t["detail"])
		if details, ok := t["details"].(map[string]any); ok {
			p.addCode(details["code"])
		}
	}
}

func (p *payload) addCode(v any) {
	if s, ok := v.(string); ok && s != "" {
		p.codes = append(p.codes, s)
	}
}

func (p *payload) addMessage(v any) {
	if s, ok := v.(string); ok && s != "" {
		p.messages = append(p.messages, s)
	}
}

// hasCode は構造化されたコードに code が含まれるかどうかを返す。大文字小文字は区別しない。
func (p payload) hasCode(code string) bool {
	for _, c := range p.codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// mentions はコードまたは応答中のいずれかの文字列に code が含まれるかどうかを返す。
func (p payload) mentions(code string) bool {
	if p.hasCode(code) {
		return true
	}
	needle := strings.ToLower(code)
	for _, t := range p.texts {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// tenantContextHints はテナントコンテキスト不足を示すメッセージ断片。
var tenantContextHints = []string{
	CodeTenantRequired,
	CodeTenantContextMissing,
	"tenant context",
	"tenant required",
	"tenant is required",
}

// isTenantContextProblem はトークンではなくテナントコンテキストの問題かどうかを判定する。
func (p payload) isTenantContextProblem() bool {
	if p.hasCode(CodeTenantRequired) || p.hasCode(CodeTenantContextMissing) {
		return true
	}
	for _, m := range p.messages {
		lower := strings.ToLower(m)
		for _, hint := range tenantContextHints {
			if strings.Contains(lower, hint) {
				return true
			}
		}
	}
	return false
}

// code は最初に見つかったコードを返す。
func (p payload) code() string {
	if len(p.codes) == 0 {
		return ""
	}
	return p.codes[0]
}

// message は最初に見つかったメッセージを返す。
func (p payload) message() string {
	if len(p.messages) == 0 {
		return ""
	}
	return p.messages[0]
}

// collectTexts はJSON値に含まれる文字列をすべて集める。
func collectTexts(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		if t != "" {
			*out = append(*out, t)
		}
	case map[string]any:
		for _, child := range t {
			collectTexts(child, out)
		}
	case []any:
		for _, child := range t {
			collectTexts(child, out)
		}
	}
}
