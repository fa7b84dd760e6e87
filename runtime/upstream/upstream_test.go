package upstream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		detail string
		want   Reason
	}{
		{name: "http 401", status: 401, want: ReasonAuth},
		{name: "bad key text", status: 1007, detail: "API key not valid. Please pass a valid API key.", want: ReasonAuth},
		{name: "http 429", status: 429, want: ReasonQuota},
		{name: "quota text", status: 1011, detail: "You exceeded your current quota", want: ReasonQuota},
		{name: "policy close", status: 1008, want: ReasonPolicy},
		{name: "service restart", status: 1012, want: ReasonUnavailable},
		{name: "http 503", status: 503, want: ReasonUnavailable},
		{name: "model not found", status: 1007, detail: "models/x is not found", want: ReasonProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, tt.detail))
		})
	}
}

func TestRejected_Error(t *testing.T) {
	cause := errors.New("read: EOF")
	r := Reject(1008, "blocked", cause)

	assert.Equal(t, "upstream rejected (policy, status 1008): blocked: read: EOF", r.Error())
	assert.ErrorIs(t, r, cause)
	assert.Equal(t, ReasonPolicy, ReasonOf(fmt.Errorf("wrap: %w", r)))
	assert.Equal(t, ReasonProtocol, ReasonOf(cause))

	assert.Equal(t, "upstream rejected (protocol)", (&Rejected{Reason: ReasonProtocol}).Error())
}
