package runtime

import (
	"reflect"
	"testing"
)

func testContext(t *testing.T, values map[string]any) *Context {
	t.Helper()
	ctx := NewContext()
	for path, v := range values {
		if err := ctx.Set(path, v); err != nil {
			t.Fatalf("error seeding context path %s: %v", path, err)
		}
	}
	return ctx
}

func TestInterpolate(t *testing.T) {
	ctx := testContext(t, map[string]any{
		"input.text":       "two tickets",
		"nlu.confidence":   0.92,
		"lookup.count":     float64(3),
		"customer.name":    "Ada",
		"customer.address": map[string]any{"city": "Lisbon"},
	})

	interp := NewInterpolator()

	tests := []struct {
		name     string
		template string
		expected any
	}{
		{
			name:     "no placeholders",
			template: "plain text",
			expected: "plain text",
		},
		{
			name:     "whole placeholder keeps native type",
			template: "{{nlu.confidence}}",
			expected: 0.92,
		},
		{
			name:     "whole placeholder resolves maps",
			template: "{{customer.address}}",
			expected: map[string]any{"city": "Lisbon"},
		},
		{
			name:     "whole placeholder with spaces",
			template: "{{ customer.name }}",
			expected: "Ada",
		},
		{
			name:     "mixed template stringifies",
			template: "Hello {{customer.name}}, you asked for {{input.text}}",
			expected: "Hello Ada, you asked for two tickets",
		},
		{
			name:     "integral float renders without decimal",
			template: "found {{lookup.count}} orders",
			expected: "found 3 orders",
		},
		{
			name:     "missing path yields unset sentinel",
			template: "{{order.number}}",
			expected: Unset,
		},
		{
			name:     "missing path inside text yields sentinel text",
			template: "order {{order.number}} not found",
			expected: "order <unset> not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := interp.Interpolate(tt.template, ctx)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("got %v (%T), want %v (%T)", result, result, tt.expected, tt.expected)
			}
		})
	}
}

func TestInterpolateConfig(t *testing.T) {
	ctx := testContext(t, map[string]any{
		"input.text": "ORD-123",
		"retries":    2,
	})

	interp := NewInterpolator()

	config := map[string]any{
		"tool": "order_lookup",
		"params": map[string]any{
			"orderNumber": "{{input.text}}",
			"flags":       []any{"{{retries}}", true},
		},
	}

	resolved := interp.InterpolateConfig(config, ctx)

	want := map[string]any{
		"tool": "order_lookup",
		"params": map[string]any{
			"orderNumber": "ORD-123",
			"flags":       []any{2, true},
		},
	}
	if !reflect.DeepEqual(resolved, want) {
		t.Errorf("got %v, want %v", resolved, want)
	}

	// The source config must not be mutated.
	if config["params"].(map[string]any)["orderNumber"] != "{{input.text}}" {
		t.Errorf("source config was mutated: %v", config)
	}
}

func TestIsUnset(t *testing.T) {
	if !IsUnset(Unset) {
		t.Error("Unset sentinel not recognized")
	}
	if IsUnset("") || IsUnset(nil) || IsUnset("value") {
		t.Error("non-sentinel value reported as unset")
	}
}
