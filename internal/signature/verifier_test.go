package signature

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/salon-payguard/internal/apperr"
	"github.com/mmeshcher/salon-payguard/internal/model"
)

var testSecret = []byte("test-payment-secret")

func TestSign_KnownVector(t *testing.T) {
	// echo -n "order_1|pay_1" | openssl dgst -sha256 -hmac "test-payment-secret"
	got := Sign("order_1", "pay_1", testSecret)
	assert.Equal(t, "fec5a60ea838e74b8ab2c19f5a148e79b28130c5615e4c9d02394cb9f06a653b", got)
	assert.NotEqual(t, got, Sign("order_1", "pay_2", testSecret))
	assert.NotEqual(t, got, Sign("order_1", "pay_1", []byte("other")))
}

func TestVerify_RoundTrip(t *testing.T) {
	cases := []struct {
		orderID   string
		paymentID string
		secret    []byte
	}{
		{"order_1", "pay_1", testSecret},
		{"order_NfgK0e3", "pay_29QQoUBi66xm2f", []byte("s")},
		{"order with spaces", "pay|pipe", []byte(strings.Repeat("k", 128))},
	}

	for _, c := range cases {
		sig := Sign(c.orderID, c.paymentID, c.secret)
		res := Verify(c.orderID, c.paymentID, sig, c.secret)
		assert.True(t, res.Success, "order %q payment %q", c.orderID, c.paymentID)
		assert.Equal(t, MessageVerified, res.Message)
		assert.NoError(t, res.Err)
	}
}

func TestVerify_SingleCharacterTamper(t *testing.T) {
	sig := Sign("order_1", "pay_1", testSecret)

	for i := 0; i < len(sig); i++ {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}

		res := Verify("order_1", "pay_1", string(b), testSecret)
		require.False(t, res.Success, "flip at %d accepted", i)
		assert.Equal(t, MessageMismatch, res.Message)
		assert.True(t, errors.Is(res.Err, apperr.ErrAuthentication))
	}
}

func TestVerify_Failures(t *testing.T) {
	valid := Sign("order_1", "pay_1", testSecret)

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		message   string
		kind      error
	}{
		{
			name:    "all missing",
			message: "missing required parameters: order_id, payment_id, signature",
			kind:    apperr.ErrValidation,
		},
		{
			name:      "payment missing",
			orderID:   "order_1",
			signature: valid,
			message:   "missing required parameters: payment_id",
			kind:      apperr.ErrValidation,
		},
		{
			name:      "short signature",
			orderID:   "order_1",
			paymentID: "pay_1",
			signature: "deadbeef",
			message:   MessageInvalidFormat,
			kind:      apperr.ErrValidation,
		},
		{
			name:      "non hex signature",
			orderID:   "order_1",
			paymentID: "pay_1",
			signature: strings.Repeat("x", 64),
			message:   MessageInvalidFormat,
			kind:      apperr.ErrValidation,
		},
		{
			name:      "uppercase hex is not byte exact",
			orderID:   "order_1",
			paymentID: "pay_1",
			signature: strings.ToUpper(valid),
			message:   MessageMismatch,
			kind:      apperr.ErrAuthentication,
		},
		{
			name:      "swapped identifiers",
			orderID:   "pay_1",
			paymentID: "order_1",
			signature: valid,
			message:   MessageMismatch,
			kind:      apperr.ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify(tt.orderID, tt.paymentID, tt.signature, testSecret)
			assert.False(t, res.Success)
			assert.Equal(t, tt.message, res.Message)
			assert.True(t, errors.Is(res.Err, tt.kind), "err = %v", res.Err)
		})
	}
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrConfiguration))
}

func TestVerifier_AuditLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	v, err := NewVerifier(string(testSecret), zap.New(core))
	require.NoError(t, err)

	sig := Sign("order_1", "pay_1", testSecret)

	res := v.Verify(model.PaymentCallback{OrderID: "order_1", PaymentID: "pay_1", Signature: sig})
	require.True(t, res.Success)

	tampered := "0" + sig[1:]
	if tampered == sig {
		tampered = "1" + sig[1:]
	}
	res = v.Verify(model.PaymentCallback{OrderID: "order_1", PaymentID: "pay_1", Signature: tampered})
	require.False(t, res.Success)

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)

	for _, e := range entries {
		ctx := e.ContextMap()
		assert.Equal(t, "order_1", ctx["order_id"])
		assert.Equal(t, "pay_1", ctx["payment_id"])

		prefix, ok := ctx["signature_prefix"].(string)
		require.True(t, ok)
		assert.Len(t, prefix, auditPrefixLen+3)

		for _, v := range ctx {
			s, ok := v.(string)
			if !ok {
				continue
			}
			assert.NotContains(t, s, sig[auditPrefixLen:])
			assert.NotContains(t, s, string(testSecret))
		}
	}
	assert.Equal(t, "authentication", entries[1].ContextMap()["kind"])
}

func TestVerifier_ShortSignatureIsRedacted(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	v, err := NewVerifier("secret", zap.New(core))
	require.NoError(t, err)

	res := v.Verify(model.PaymentCallback{OrderID: "o", PaymentID: "p", Signature: "abc"})
	assert.False(t, res.Success)
	assert.Equal(t, MessageInvalidFormat, res.Message)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "[redacted]", logs.All()[0].ContextMap()["signature_prefix"])
}
