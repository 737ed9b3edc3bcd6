package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth struct{ header string }

func (a staticAuth) AuthHeader(context.Context) (string, error) { return a.header, nil }

func newTestClient(t *testing.T, variant APIVariant, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, variant, staticAuth{header: "Basic dGVzdDp0ZXN0"}, logrus.New())
}

func TestParseVariant(t *testing.T) {
	for _, name := range []string{"legacy", "standard"} {
		v, err := ParseVariant(name)
		require.NoError(t, err)
		assert.Equal(t, name, string(v))
	}
	_, err := ParseVariant("v3")
	assert.Error(t, err)
}

func TestCallbackParamsPerVariant(t *testing.T) {
	paymentID, linkID, reference, status, sig := VariantLegacy.CallbackParams()
	assert.Equal(t, "razorpay_payment_id", paymentID)
	assert.Equal(t, "razorpay_invoice_id", linkID)
	assert.Equal(t, "razorpay_invoice_receipt", reference)
	assert.Equal(t, "razorpay_invoice_status", status)
	assert.Equal(t, "razorpay_signature", sig)

	_, linkID, reference, status, _ = VariantStandard.CallbackParams()
	assert.Equal(t, "razorpay_payment_link_id", linkID)
	assert.Equal(t, "razorpay_payment_link_reference_id", reference)
	assert.Equal(t, "razorpay_payment_link_status", status)
}

func TestCreateLinkStandardPayload(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, VariantStandard, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payment_links", r.URL.Path)
		assert.Equal(t, "Basic dGVzdDp0ZXN0", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(LinkResponse{ID: "plink_1", Status: "created", ShortURL: "https://rzp.io/i/x"})
	})

	resp, err := client.CreateLink(context.Background(), LinkRequest{
		Amount:      49900,
		Currency:    "INR",
		Reference:   "order-42",
		NotifySMS:   true,
		CallbackURL: "https://pay.example.com/cb",
	})
	require.NoError(t, err)
	assert.Equal(t, "plink_1", resp.ID)

	assert.Equal(t, "order-42", got["reference_id"])
	notify, ok := got["notify"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, notify["sms"])
	assert.Equal(t, false, got["upi_link"])
	assert.Equal(t, "get", got["callback_method"])
	assert.NotContains(t, got, "type")
}

func TestCreateLinkLegacyPayload(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, VariantLegacy, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(LinkResponse{ID: "inv_1", Status: "issued", ShortURL: "https://rzp.io/i/y"})
	})

	resp, err := client.CreateLink(context.Background(), LinkRequest{
		Amount:      10000,
		Currency:    "INR",
		Reference:   "order-43",
		NotifyEmail: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "inv_1", resp.ID)

	assert.Equal(t, "order-43", got["receipt"])
	assert.Equal(t, "link", got["type"])
	assert.EqualValues(t, 1, got["view_less"])
	assert.EqualValues(t, 0, got["sms_notify"])
	assert.EqualValues(t, 1, got["email_notify"])
	assert.NotContains(t, got, "notify")
}

func TestCancelLinkUsesVariantResource(t *testing.T) {
	client := newTestClient(t, VariantLegacy, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invoices/inv_1/cancel", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(LinkResponse{ID: "inv_1", Status: "cancelled"})
	})

	resp, err := client.CancelLink(context.Background(), "inv_1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Status)
}

func TestRejectionSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, VariantStandard, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "amount must be at least INR 1.00",
			},
		})
	})

	_, err := client.FetchPayment(context.Background(), "pay_1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Equal(t, "BAD_REQUEST_ERROR : amount must be at least INR 1.00", apiErr.Error())
}

func TestAuthorizedStatuses(t *testing.T) {
	assert.True(t, (&Payment{Status: "authorized"}).Authorized())
	assert.True(t, (&Payment{Status: "captured"}).Authorized())
	assert.False(t, (&Payment{Status: "failed"}).Authorized())
	assert.False(t, (&Payment{Status: "created"}).Authorized())
}
