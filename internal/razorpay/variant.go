package razorpay

import "fmt"

// APIVariant selects between the processor's legacy invoice API and the
// standard payment-link API. The two differ only in resource paths, field
// names and enum values; all behavior is shared.
type APIVariant string

const (
	VariantLegacy   APIVariant = "legacy"
	VariantStandard APIVariant = "standard"
)

// ParseVariant validates a configured variant name.
func ParseVariant(s string) (APIVariant, error) {
	switch APIVariant(s) {
	case VariantLegacy, VariantStandard:
		return APIVariant(s), nil
	}
	return "", fmt.Errorf("unknown API variant %q", s)
}

// resource is the REST collection holding payment links for the variant.
func (v APIVariant) resource() string {
	if v == VariantStandard {
		return "payment_links"
	}
	return "invoices"
}

// referenceField is the request field carrying the order reference.
func (v APIVariant) referenceField() string {
	if v == VariantStandard {
		return "reference_id"
	}
	return "receipt"
}

// IssuedStatus is the link status reported on successful creation.
func (v APIVariant) IssuedStatus() string {
	if v == VariantStandard {
		return "created"
	}
	return "issued"
}

// CallbackParams returns the redirect-callback query parameter names:
// payment id, link id, reference, link status, signature.
func (v APIVariant) CallbackParams() (paymentID, linkID, reference, status, sig string) {
	entity := "invoice"
	ref := "receipt"
	if v == VariantStandard {
		entity = "payment_link"
		ref = "reference_id"
	}
	return "razorpay_payment_id",
		"razorpay_" + entity + "_id",
		"razorpay_" + entity + "_" + ref,
		"razorpay_" + entity + "_status",
		"razorpay_signature"
}
