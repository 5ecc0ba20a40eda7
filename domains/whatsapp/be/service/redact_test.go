package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactDetails(t *testing.T) {
	t.Parallel()

	t.Run("credentials are replaced regardless of case", func(t *testing.T) {
		t.Parallel()
		out := redactDetails(map[string]any{
			"access_token": "EAAG...",
			"Code":         "135246",
			"PIN":          "654321",
			"latency_ms":   int64(42),
		})
		assert.Equal(t, redactedValue, out["access_token"])
		assert.Equal(t, redactedValue, out["Code"])
		assert.Equal(t, redactedValue, out["PIN"])
		assert.Equal(t, int64(42), out["latency_ms"])
	})

	t.Run("phone numbers are masked not removed", func(t *testing.T) {
		t.Parallel()
		out := redactDetails(map[string]any{"phone_number": "+5511999990000"})
		assert.Equal(t, "+5511*****0000", out["phone_number"])
	})

	t.Run("nested documents are covered", func(t *testing.T) {
		t.Parallel()
		out := redactDetails(map[string]any{
			"request": map[string]any{"verification_code": "135246"},
			"attempts": []any{
				map[string]any{"token": "tok_1"},
			},
		})
		nested, ok := out["request"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, redactedValue, nested["verification_code"])

		list, ok := out["attempts"].([]any)
		require.True(t, ok)
		item, ok := list[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, redactedValue, item["token"])
	})

	t.Run("input map is left untouched", func(t *testing.T) {
		t.Parallel()
		in := map[string]any{"token": "tok_1", "nested": map[string]any{"pin": "1"}}
		_ = redactDetails(in)
		assert.Equal(t, "tok_1", in["token"])
		assert.Equal(t, "1", in["nested"].(map[string]any)["pin"])
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, redactDetails(nil))
	})
}

func TestMaskPhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"+5511999990000", "+5511*****0000"},
		{"+55 11 99999-0000", "+5511*****0000"},
		{"5511999990000", "5511*****0000"},
		{"+5511990000", "+5511**0000"},
		{"99990000", "****0000"},
		{"1234", "****"},
		{"42", "**"},
		{"", ""},
		{"unknown", "unknown"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, maskPhone(tc.in))
		})
	}
}
