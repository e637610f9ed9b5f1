package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want map[string]any
		ok   bool
	}{
		{"plain", `{"a":1}`, map[string]any{"a": float64(1)}, true},
		{"prose around", "Sure! {\"a\":\"b\"} hope this helps", map[string]any{"a": "b"}, true},
		{"braces in strings", `{"a":"}{"}`, map[string]any{"a": "}{"}, true},
		{"skips invalid region", `{not json} then {"ok":true}`, map[string]any{"ok": true}, true},
		{"none", "no json here", nil, false},
		{"unbalanced", `{"a":1`, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestExtractArray(t *testing.T) {
	got, ok := extractArray("```json\n[{\"content\":\"x [1]\"}]\n```")
	assert.True(t, ok)
	assert.Len(t, got, 1)

	_, ok = extractArray("[oops")
	assert.False(t, ok)
}

func TestCoercionHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, stringList([]any{"a", 1, " ", "c"}, 5))
	assert.Equal(t, []string{"a"}, stringList([]any{"a", "b"}, 1))
	assert.Equal(t, []string{}, stringList("nope", 5))

	assert.Equal(t, "def", stringOr(nil, "def"))
	assert.Equal(t, "x", stringOr(" x ", "def"))

	assert.Equal(t, "neutral", oneOf("angry", []string{"positive", "neutral"}, "neutral"))
	assert.Equal(t, "positive", oneOf("Positive", []string{"positive", "neutral"}, "neutral"))

	n, ok := intValue(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)
	n, ok = intValue("12")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok = intValue("high")
	assert.False(t, ok)

	s, cut := truncate("héllo", 2)
	assert.Equal(t, "hé", s)
	assert.True(t, cut)
}
