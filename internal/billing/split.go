// Package billing computes the revenue split between the platform and
// the business operating a hotspot.
package billing

// PlatformFeeRate is the platform's cut of every charge.
const PlatformFeeRate = 0.20

// Split divides a charge into the platform fee and the business payout.
// The fee is rounded half-up; the payout is the remainder, so the two
// always sum to the original amount. Defined for amountCents = 0.
func Split(amountCents int) (platformFeeCents, businessPayoutCents int) {
	platformFeeCents = int(float64(amountCents)*PlatformFeeRate + 0.5)
	businessPayoutCents = amountCents - platformFeeCents
	return platformFeeCents, businessPayoutCents
}
