package reconcile

import (
	"strings"

	"companion/internal/types"
)

// Checkout metadata keys. Sessions created by this service use the first
// spelling of each pair; older clients wrote the second.
const (
	MetaPurchaseType       = "purchase_type"
	MetaPersonaID          = "model_id"
	MetaSubjectID          = "user_id"
	legacyMetaPurchaseType = "type"
	legacyMetaPersonaID    = "modelId"
	legacyMetaSubjectID    = "userId"
)

func firstNonEmpty(metadata map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(metadata[k]); v != "" {
			return v
		}
	}
	return ""
}

// SubjectIDFromMetadata returns the subject id under either naming convention.
func SubjectIDFromMetadata(metadata map[string]string) string {
	return firstNonEmpty(metadata, MetaSubjectID, legacyMetaSubjectID)
}

// NormalizeIntent turns checkout metadata into a PurchaseIntent. amountTotal
// is the session's charged amount and only matters for donations.
func NormalizeIntent(metadata map[string]string, amountTotal int64) (types.PurchaseIntent, error) {
	kind := strings.ToLower(firstNonEmpty(metadata, MetaPurchaseType, legacyMetaPurchaseType))
	persona := firstNonEmpty(metadata, MetaPersonaID, legacyMetaPersonaID)

	switch types.PurchaseKind(kind) {
	case types.PurchaseSubscription:
		return types.PurchaseIntent{Kind: types.PurchaseSubscription}, nil

	case types.PurchaseOneTime:
		if persona == "" {
			return types.PurchaseIntent{}, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"one_time purchase carries no persona id",
				nil,
			)
		}
		return types.PurchaseIntent{Kind: types.PurchaseOneTime, PersonaID: persona}, nil

	case types.PurchaseDonation:
		if amountTotal <= 0 {
			return types.PurchaseIntent{}, types.NewAppError(
				types.ErrCodeValidationInvalidAmount,
				"donation carries no amount",
				nil,
			)
		}
		return types.PurchaseIntent{Kind: types.PurchaseDonation, AmountCents: amountTotal}, nil

	default:
		return types.PurchaseIntent{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPurchaseType,
			"unknown purchase type",
			nil,
			map[string]any{"purchase_type": kind},
		)
	}
}

// CheckoutMetadata renders an intent in the canonical metadata convention.
func CheckoutMetadata(intent types.PurchaseIntent, subjectID string) map[string]string {
	md := map[string]string{
		MetaPurchaseType: string(intent.Kind),
		MetaSubjectID:    subjectID,
	}
	if intent.PersonaID != "" {
		md[MetaPersonaID] = intent.PersonaID
	}
	return md
}
