package render

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// leftover matches any placeholder still present after substitution.
var leftover = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// Money is a currency amount, always rendered with two decimals.
type Money float64

// Renderer substitutes variables into template content.
type Renderer struct {
	layout string
	loc    *time.Location
}

func New(dateLayout string, loc *time.Location) *Renderer {
	if dateLayout == "" {
		dateLayout = "02.01.2006"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{layout: dateLayout, loc: loc}
}

// Format returns the canonical text form of a variable value.
func (r *Renderer) Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case Money:
		return strconv.FormatFloat(float64(val), 'f', 2, 64)
	case float64:
		return strconv.FormatFloat(val, 'f', 2, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', 2, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.In(r.loc).Format(r.layout)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Strings formats every variable, for log snapshots.
func (r *Renderer) Strings(vars map[string]any) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		out[k] = r.Format(v)
	}
	return out
}

// Render replaces {{name}} and {name} for every variable and removes any
// unresolved {{...}} token. Values are inserted verbatim.
func (r *Renderer) Render(text string, vars map[string]any) string {
	return r.substitute(text, vars, false)
}

// RenderHTML escapes values unless the variable name ends in _html and
// inserts the signature before the closing body tag.
func (r *Renderer) RenderHTML(content string, vars map[string]any, sig *Signature) string {
	if content == "" {
		return ""
	}
	if sig.active() && sig.HTML != "" {
		content = insertBeforeBodyEnd(content, sig.HTML)
	}
	return r.substitute(content, vars, true)
}

// RenderText appends the text signature as a trailing block.
func (r *Renderer) RenderText(content string, vars map[string]any, sig *Signature) string {
	if content == "" {
		return ""
	}
	if sig.active() && sig.Text != "" {
		content = strings.TrimRight(content, "\n") + "\n\n" + sig.Text
	}
	return r.substitute(content, vars, false)
}

func (r *Renderer) substitute(text string, vars map[string]any, escape bool) string {
	if text == "" {
		return text
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = r.Format(vars[k])
		if escape && !strings.HasSuffix(k, "_html") {
			vals[i] = html.EscapeString(vals[i])
		}
	}

	pairs := make([]string, 0, len(keys)*4)
	for i, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vals[i])
	}
	for i, k := range keys {
		pairs = append(pairs, "{"+k+"}", vals[i])
	}

	// Substituted values are not scanned again.
	out := strings.NewReplacer(pairs...).Replace(text)
	return leftover.ReplaceAllString(out, "")
}

func insertBeforeBodyEnd(content, block string) string {
	idx := strings.LastIndex(strings.ToLower(content), "</body>")
	if idx < 0 {
		return content + block
	}
	return content[:idx] + block + content[idx:]
}
