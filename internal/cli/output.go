package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nao1215/hrgate/internal/config"
	"gopkg.in/yaml.v3"
)

// printOutput は json または yaml の出力形式で v を書き出す。
func (a *app) printOutput(v any) error {
	switch a.cfg.Output {
	case config.OutputJSON:
		return printJSON(a.out, v)
	case config.OutputYAML:
		return printYAML(a.out, v)
	default:
		return fmt.Errorf("構造化データに未対応の出力形式です: %s (json または yaml を指定してください)", a.cfg.Output)
	}
}

// structured は出力形式が json または yaml かどうかを返す。
func (a *app) structured() bool {
	return a.cfg.Output == config.OutputJSON || a.cfg.Output == config.OutputYAML
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	// json タグのキー名に揃えるため一度JSONを経由する
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

func printTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)

	upper := make([]string, len(headers))
	for i, h := range headers {
		upper[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(tw, strings.Join(upper, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// printRaw はAPIの応答ボディを出力形式に合わせて書き出す。
// table の場合、DRF形式の一覧（results 配列）は表に、それ以外は整形したJSONにする。
func (a *app) printRaw(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		_, err := a.out.Write(body)
		return err
	}
	if a.structured() {
		return a.printOutput(v)
	}

	if obj, ok := v.(map[string]any); ok {
		if results, ok := obj["results"].([]any); ok {
			if headers, rows, ok := tabulate(results); ok {
				return printTable(a.out, headers, rows)
			}
		}
	}
	return printJSON(a.out, v)
}

// tabulate はオブジェクトの配列を表の見出しと行に変換する。見出しはキーの昇順で、id を先頭にする。
func tabulate(items []any) ([]string, [][]string, bool) {
	keys := map[string]struct{}{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, false
		}
		for k := range obj {
			keys[k] = struct{}{}
		}
	}

	headers := make([]string, 0, len(keys))
	for k := range keys {
		headers = append(headers, k)
	}
	slices.SortFunc(headers, func(x, y string) int {
		switch {
		case x == y:
			return 0
		case x == "id":
			return -1
		case y == "id":
			return 1
		}
		return strings.Compare(x, y)
	})

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		obj := item.(map[string]any)
		row := make([]string, len(headers))
		for i, h := range headers {
			row[i] = formatValue(obj[h])
		}
		rows = append(rows, row)
	}
	return headers, rows, true
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = formatValue(p)
		}
		return strings.Join(parts, ", ")
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}
