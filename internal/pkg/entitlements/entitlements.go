package entitlements

import "github.com/grouphive/grouphive/app/models"

// Member feature gates derived from the paid-status mirror. Downstream
// features (event RSVPs, posting limits, member badges) read these instead of
// interpreting billing state themselves.

// CanAccessPaidContent reports whether a member may use tier-gated features.
// Grace-period members keep access while dunning runs.
func CanAccessPaidContent(paidStatus string) bool {
	switch paidStatus {
	case models.MemberPaidStatusPaying, models.MemberPaidStatusGrace:
		return true
	default:
		return false
	}
}

// ShowsPaymentWarning reports whether the UI should prompt the member to fix
// their payment method.
func ShowsPaymentWarning(paidStatus string) bool {
	return paidStatus == models.MemberPaidStatusGrace
}
