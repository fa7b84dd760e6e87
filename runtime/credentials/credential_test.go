package credentials

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const goodKey = "AIzaSyD-example-key-000000000000000000"

func TestAPIKey_Apply(t *testing.T) {
	h := http.Header{}
	NewAPIKey(goodKey).Apply(h)
	assert.Equal(t, goodKey, h.Get(DefaultHeaderName))

	h = http.Header{}
	NewAPIKey(goodKey, WithHeaderName("Authorization")).Apply(h)
	assert.Equal(t, goodKey, h.Get("Authorization"))

	h = http.Header{}
	NewAPIKey("").Apply(h)
	assert.Empty(t, h)
}

func TestAPIKey_Validate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{name: "valid", key: goodKey},
		{name: "trimmed", key: "  " + goodKey + "\n"},
		{name: "missing", key: "", want: ErrMissing},
		{name: "blank", key: "   ", want: ErrMissing},
		{name: "short", key: "AIza", want: ErrMalformed},
		{name: "inner space", key: "AIzaSyD example key 0000", want: ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIKey(tt.key).Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var nilKey *APIKey
	assert.ErrorIs(t, nilKey.Validate(), ErrMissing)
}

func TestAPIKey_StringIsRedacted(t *testing.T) {
	c := NewAPIKey(goodKey)

	for _, s := range []string{c.String(), fmt.Sprintf("%v", c), fmt.Sprintf("%#v", c), fmt.Sprint(c)} {
		assert.NotContains(t, s, goodKey)
		assert.True(t, strings.HasPrefix(s, "api_key(AIza"))
	}
	assert.Equal(t, "api_key(<unset>)", NewAPIKey("").String())
	assert.Equal(t, goodKey, c.Value())
	assert.Equal(t, "api_key", c.Type())
}
