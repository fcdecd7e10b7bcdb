package royalty

// RoyaltyCents computes the royalty owed on a revenue amount at the given
// share. Integer arithmetic with round-half-up: half a cent and above rounds
// away from zero. Revenue must be non-negative (enforced on load).
func RoyaltyCents(revenue AmountCents, share BasisPoints) AmountCents {
	product := revenue.Int64() * share.Int64()
	return AmountCents((product + halfBasisDenominator) / basisPointsDenominator)
}

// ProratedRevenue attributes the slice of an item's revenue that falls inside
// the run period, prorated by elapsed time within the overlap. Returns false
// when the item's effective range does not overlap the period.
func ProratedRevenue(item RevenueItem, period Period) (AmountCents, Period, bool) {
	overlap, ok := item.Effective.Overlap(period)
	if !ok {
		return 0, Period{}, false
	}
	totalSeconds := item.Effective.Seconds()
	if totalSeconds <= 0 {
		return 0, Period{}, false
	}
	overlapSeconds := overlap.Seconds()
	if overlapSeconds >= totalSeconds {
		return item.RevenueCents, overlap, true
	}
	scaled := item.RevenueCents.Int64() * overlapSeconds
	prorated := (scaled + totalSeconds/2) / totalSeconds
	return AmountCents(prorated), overlap, true
}

// platformFee applies the fee share to positive earnings only.
func platformFee(earnings AmountCents, feeBps BasisPoints) AmountCents {
	if earnings <= 0 {
		return 0
	}
	return RoyaltyCents(earnings, feeBps)
}
