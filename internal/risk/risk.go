// Package risk scores proposed transactions for fraud/AML handling. Assess is
// pure: same input, same output, no side effects.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/models"
)

// Disposition is the recommended handling for a transaction
type Disposition string

const (
	// DispositionApprove lets the transaction proceed without review.
	// Only deposits may act on this; withdrawals always go to review.
	DispositionApprove Disposition = "approve"
	// DispositionReview routes the transaction to the admin queue.
	DispositionReview Disposition = "review"
)

// Scoring rules. Additive and order-independent; only the higher of the two
// amount thresholds fires.
var (
	highAmountUSD   = decimal.NewFromInt(10000)
	mediumAmountUSD = decimal.NewFromInt(100)
	btcHighValue    = decimal.NewFromInt(1)
)

const (
	scoreHighAmount      = 30
	scoreMediumAmount    = 10
	scoreHighValueCrypto = 20
	scoreNewUser         = 15

	// ReviewScore is the lowest score that forces admin review.
	ReviewScore = 25
	// HighRiskScore marks a reviewed transaction as flagged rather than
	// merely pending.
	HighRiskScore = 50
)

// Profile is the slice of user state the assessor needs
type Profile struct {
	HasDeposited bool
}

// Input describes the proposed transaction. USDValue is the USD equivalent of
// Amount, resolved by the caller against the current quote.
type Input struct {
	Amount   decimal.Decimal
	Asset    string
	USDValue decimal.Decimal
	Profile  Profile
}

// Assessment is the scored result
type Assessment struct {
	Score       int
	Flags       []models.RiskFlag
	Disposition Disposition
}

// HighRisk reports whether the score crosses the flagging threshold
func (a Assessment) HighRisk() bool {
	return a.Score >= HighRiskScore
}

// Assess scores a proposed transaction
func Assess(in Input) Assessment {
	var (
		score int
		flags []models.RiskFlag
	)

	switch {
	case in.USDValue.GreaterThan(highAmountUSD):
		score += scoreHighAmount
		flags = append(flags, models.FlagHighAmount)
	case in.USDValue.GreaterThan(mediumAmountUSD):
		score += scoreMediumAmount
		flags = append(flags, models.FlagMediumAmount)
	}

	if in.Asset == "BTC" && in.Amount.GreaterThan(btcHighValue) {
		score += scoreHighValueCrypto
		flags = append(flags, models.FlagHighValueCrypto)
	}

	if !in.Profile.HasDeposited {
		score += scoreNewUser
		flags = append(flags, models.FlagNewUser)
	}

	disposition := DispositionApprove
	if score >= ReviewScore {
		disposition = DispositionReview
	}

	return Assessment{Score: score, Flags: flags, Disposition: disposition}
}
