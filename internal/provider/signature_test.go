// internal/provider/signature_test.go
package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyHMACSignature(t *testing.T) {
	secret := []byte("webhook-secret")
	payload := []byte(`{"eventType":"delivery","messageId":"m-1"}`)
	valid := SignPayload(secret, payload)

	tests := []struct {
		name      string
		secret    []byte
		payload   []byte
		signature string
		want      bool
	}{
		{"valid signature", secret, payload, valid, true},
		{"tampered payload", secret, []byte(`{"eventType":"read"}`), valid, false},
		{"wrong secret", []byte("other"), payload, valid, false},
		{"garbage signature", secret, payload, "sha256=zzzz", false},
		{"missing prefix still verifies", secret, payload, valid[len("sha256="):], true},
		{"empty signature", secret, payload, "", false},
		{"empty secret fails closed", nil, payload, SignPayload(nil, payload), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyHMACSignature(tt.secret, tt.payload, tt.signature))
		})
	}
}
