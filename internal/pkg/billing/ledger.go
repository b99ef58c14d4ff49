package billing

import (
	"strings"
	"time"

	"github.com/grouphive/grouphive/app/models"
)

const fallbackCurrency = "USD"

// NormalizeCurrency uppercases an ISO-4217 code, falling back to USD when the
// gateway omitted or mangled it. Ledger rows never store a lowercase or empty
// currency.
func NormalizeCurrency(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return fallbackCurrency
	}
	return c
}

// newChargeEntry builds a positive ledger entry. Net defaults to gross; the
// gateway does not include fee data in webhook payloads.
func newChargeEntry(externalEventID string, groupID, userID uint, membershipID *uint, amountCents int64, currency string, occurredAt time.Time) *models.RevenueEntry {
	return &models.RevenueEntry{
		ExternalEventID:  externalEventID,
		GroupID:          groupID,
		MembershipID:     membershipID,
		UserID:           userID,
		EntryType:        models.RevenueEntryTypeCharge,
		AmountGrossCents: abs(amountCents),
		AmountNetCents:   abs(amountCents),
		Currency:         NormalizeCurrency(currency),
		OccurredAt:       occurredAt,
	}
}

// newRefundEntry builds a negative ledger entry keyed by the refund's own id.
func newRefundEntry(externalRefundID string, groupID, userID uint, membershipID *uint, amountCents int64, currency string, occurredAt time.Time) *models.RevenueEntry {
	return &models.RevenueEntry{
		ExternalEventID:  externalRefundID,
		GroupID:          groupID,
		MembershipID:     membershipID,
		UserID:           userID,
		EntryType:        models.RevenueEntryTypeRefund,
		AmountGrossCents: -abs(amountCents),
		AmountNetCents:   -abs(amountCents),
		Currency:         NormalizeCurrency(currency),
		OccurredAt:       occurredAt,
	}
}

// newChargebackEntry builds a negative ledger entry for a lost dispute, keyed
// by the dispute-closed event id (distinct from the created event's id).
func newChargebackEntry(closedEventID string, groupID, userID uint, membershipID *uint, amountCents int64, currency string, occurredAt time.Time) *models.RevenueEntry {
	return &models.RevenueEntry{
		ExternalEventID:  closedEventID,
		GroupID:          groupID,
		MembershipID:     membershipID,
		UserID:           userID,
		EntryType:        models.RevenueEntryTypeChargeback,
		AmountGrossCents: -abs(amountCents),
		AmountNetCents:   -abs(amountCents),
		Currency:         NormalizeCurrency(currency),
		OccurredAt:       occurredAt,
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
