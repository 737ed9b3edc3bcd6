package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministicHex(t *testing.T) {
	first := Compute([]byte(`{"event":"payment.authorized"}`), "secret")
	second := Compute([]byte(`{"event":"payment.authorized"}`), "secret")
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"event":"refund.created","payload":{}}`)
	sig := Compute(body, "whsec")

	assert.True(t, VerifyWebhook(body, "whsec", sig))
	assert.False(t, VerifyWebhook(body, "whsec", sig+"00"))
	assert.False(t, VerifyWebhook(body, "other-secret", sig))
	// The signature covers the raw body byte for byte
	assert.False(t, VerifyWebhook(append(body, ' '), "whsec", sig))
}

func TestVerifyCallbackJoinsFieldsWithPipe(t *testing.T) {
	fields := []string{"plink_1", "order_42", "paid", "pay_9"}
	sig := Compute([]byte("plink_1|order_42|paid|pay_9"), "keysecret")

	assert.True(t, VerifyCallback(fields, "keysecret", sig))
	assert.False(t, VerifyCallback([]string{"plink_1", "order_42", "paid", "pay_8"}, "keysecret", sig))
	assert.False(t, VerifyCallback(fields, "wrong", sig))
}
