package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ggonzalez94/xroute/internal/config"
	"github.com/ggonzalez94/xroute/internal/model"
)

// Render writes env in the configured output mode. --select projects the
// data payload; dotted fields reach into nested objects ("fee.totalFeeUSD").
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return writeJSON(w, data)
		}
		return renderPlain(w, data)
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return writeJSON(w, env)
	}

	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error[%s]: %s\n", env.Error.Type, env.Error.Message); err != nil {
			return err
		}
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	if data == nil {
		return nil
	}
	return renderPlain(w, data)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints lists of objects as an aligned table and anything else
// as sorted key=value pairs.
func renderPlain(w io.Writer, data any) error {
	switch t := normalizeValue(data).(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		return renderTable(w, t)
	case map[string]any:
		_, err := fmt.Fprintln(w, toLine(t))
		return err
	default:
		_, err := fmt.Fprintln(w, scalar(t))
		return err
	}
}

func renderTable(w io.Writer, rows []any) error {
	columns := map[string]struct{}{}
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			// mixed or scalar lists fall back to one value per line
			for _, item := range rows {
				if _, err := fmt.Fprintln(w, scalar(item)); err != nil {
					return err
				}
			}
			return nil
		}
		for k := range m {
			columns[k] = struct{}{}
		}
	}
	header := sortedKeys(columns)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.ToUpper(strings.Join(header, "\t"))); err != nil {
		return err
	}
	for _, row := range rows {
		m := row.(map[string]any)
		cells := make([]string, len(header))
		for i, k := range header {
			if v, ok := m[k]; ok {
				cells[i] = scalar(v)
			}
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := lookup(m, strings.Split(f, ".")); ok {
			out[f] = v
		}
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok || len(path) == 1 {
		return v, ok
	}
	next, isMap := v.(map[string]any)
	if !isMap {
		return nil, false
	}
	return lookup(next, path[1:])
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}

func toLine(m map[string]any) string {
	keys := make(map[string]struct{}, len(m))
	for k := range m {
		keys[k] = struct{}{}
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(keys) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, scalar(m[k])))
	}
	return strings.Join(parts, " ")
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	default:
		return fmt.Sprint(t)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
