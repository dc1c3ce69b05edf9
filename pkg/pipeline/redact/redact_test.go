package redact_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
)

func TestSecrets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "plain", in: "table not found", want: "table not found"},
		{name: "bearer", in: "Authorization: Bearer abc.def.ghi failed", want: "Authorization: Bearer <redacted> failed"},
		{name: "bearer lowercase", in: "bearer tok123", want: "Bearer <redacted>"},
		{name: "kv", in: "bad request api_token=sk-123 rejected", want: "bad request <redacted_kv> rejected"},
		{name: "json kv", in: `{"apiToken": "sk-123"}`, want: `{<redacted_kv>}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, redact.Secrets(tt.in))
		})
	}
}

func TestError(t *testing.T) {
	t.Parallel()

	assert.Empty(t, redact.Error(nil))
	assert.Equal(t, "call failed: Bearer <redacted>", redact.Error(errors.New("call failed: Bearer xyz")))
}
