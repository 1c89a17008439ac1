package runtime

import (
	"fmt"
	"regexp"
	"strings"
)

// Unset is the sentinel produced when a template references a context path
// that has no value yet. It is distinct from both the literal placeholder
// text and the empty string, so executors can tell "not yet known" apart
// from "known empty".
const Unset = "<unset>"

// IsUnset reports whether an interpolated value is the unset sentinel.
func IsUnset(v any) bool {
	s, ok := v.(string)
	return ok && s == Unset
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolator resolves {{path}} placeholders against a run context.
type Interpolator struct{}

func NewInterpolator() *Interpolator {
	return &Interpolator{}
}

// Interpolate resolves placeholders in a single string. A string that is
// exactly one placeholder resolves to the native value at that path (a map
// stays a map, a number stays a number). Strings mixing placeholders with
// literal text are rendered with each value stringified. A string with no
// placeholders is returned unchanged.
func (i *Interpolator) Interpolate(template string, ctx *Context) any {
	matches := placeholderRe.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return template
	}

	// Whole-placeholder strings keep the native type of the resolved value.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(template) {
		path := strings.TrimSpace(template[matches[0][2]:matches[0][3]])
		v, ok := ctx.Get(path)
		if !ok {
			return Unset
		}
		return v
	}

	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		path := strings.TrimSpace(placeholderRe.FindStringSubmatch(m)[1])
		v, ok := ctx.Get(path)
		if !ok {
			return Unset
		}
		return stringify(v)
	})
}

// InterpolateConfig resolves placeholders in every string leaf of a state
// config, recursing through nested maps and arrays. The input is never
// mutated; a new config is returned.
func (i *Interpolator) InterpolateConfig(config map[string]any, ctx *Context) map[string]any {
	resolved := make(map[string]any, len(config))
	for k, v := range config {
		resolved[k] = i.interpolateValue(v, ctx)
	}
	return resolved
}

func (i *Interpolator) interpolateValue(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return i.Interpolate(v, ctx)
	case map[string]any:
		return i.InterpolateConfig(v, ctx)
	case []any:
		resolved := make([]any, len(v))
		for idx, item := range v {
			resolved[idx] = i.interpolateValue(item, ctx)
		}
		return resolved
	default:
		return value
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		// Render integral floats without the trailing ".0" JSON decoding adds.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
