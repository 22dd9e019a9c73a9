package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/models"
)

func usd(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestAssess(t *testing.T) {
	tests := []struct {
		name            string
		in              Input
		wantScore       int
		wantFlags       []models.RiskFlag
		wantDisposition Disposition
	}{
		{
			name: "small deposit, established user",
			in: Input{
				Amount:   usd(50),
				Asset:    "USDT",
				USDValue: usd(50),
				Profile:  Profile{HasDeposited: true},
			},
			wantScore:       0,
			wantDisposition: DispositionApprove,
		},
		{
			name: "medium amount alone stays approvable",
			in: Input{
				Amount:   usd(2000),
				Asset:    "USDT",
				USDValue: usd(2000),
				Profile:  Profile{HasDeposited: true},
			},
			wantScore:       10,
			wantFlags:       []models.RiskFlag{models.FlagMediumAmount},
			wantDisposition: DispositionApprove,
		},
		{
			name: "medium amount plus new user hits the review boundary",
			in: Input{
				Amount:   usd(1500),
				Asset:    "USDT",
				USDValue: usd(1500),
				Profile:  Profile{HasDeposited: false},
			},
			wantScore:       25,
			wantFlags:       []models.RiskFlag{models.FlagMediumAmount, models.FlagNewUser},
			wantDisposition: DispositionReview,
		},
		{
			name: "only the higher amount threshold fires",
			in: Input{
				Amount:   usd(20000),
				Asset:    "USDT",
				USDValue: usd(20000),
				Profile:  Profile{HasDeposited: true},
			},
			wantScore:       30,
			wantFlags:       []models.RiskFlag{models.FlagHighAmount},
			wantDisposition: DispositionReview,
		},
		{
			name: "large BTC deposit from a new user is high risk",
			in: Input{
				Amount:   decimal.NewFromFloat(2.5),
				Asset:    "BTC",
				USDValue: usd(125000),
				Profile:  Profile{HasDeposited: false},
			},
			wantScore: 65,
			wantFlags: []models.RiskFlag{
				models.FlagHighAmount,
				models.FlagHighValueCrypto,
				models.FlagNewUser,
			},
			wantDisposition: DispositionReview,
		},
		{
			name: "sub-threshold BTC quantity does not flag as crypto",
			in: Input{
				Amount:   decimal.NewFromFloat(0.9),
				Asset:    "BTC",
				USDValue: usd(900),
				Profile:  Profile{HasDeposited: true},
			},
			wantScore:       10,
			wantFlags:       []models.RiskFlag{models.FlagMediumAmount},
			wantDisposition: DispositionApprove,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assess(tt.in)
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", got.Score, tt.wantScore)
			}
			if got.Disposition != tt.wantDisposition {
				t.Errorf("disposition = %s, want %s", got.Disposition, tt.wantDisposition)
			}
			if len(got.Flags) != len(tt.wantFlags) {
				t.Fatalf("flags = %v, want %v", got.Flags, tt.wantFlags)
			}
			for i, flag := range tt.wantFlags {
				if got.Flags[i] != flag {
					t.Errorf("flags[%d] = %s, want %s", i, got.Flags[i], flag)
				}
			}
		})
	}
}

// A $500 deposit from a first-time user scores 10+15=25 and must go to
// review despite the low nominal amount.
func TestAssess_NewUserMediumDepositRequiresReview(t *testing.T) {
	got := Assess(Input{
		Amount:   usd(500),
		Asset:    "USDT",
		USDValue: usd(500),
		Profile:  Profile{HasDeposited: false},
	})
	if got.Score != 25 {
		t.Fatalf("score = %d, want 25", got.Score)
	}
	if got.Disposition != DispositionReview {
		t.Fatalf("disposition = %s, want review", got.Disposition)
	}
}

func TestAssess_Deterministic(t *testing.T) {
	in := Input{
		Amount:   decimal.NewFromFloat(1.2),
		Asset:    "BTC",
		USDValue: usd(60000),
		Profile:  Profile{HasDeposited: false},
	}
	first := Assess(in)
	for i := 0; i < 10; i++ {
		if got := Assess(in); got.Score != first.Score || got.Disposition != first.Disposition {
			t.Fatalf("assessment changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestAssessment_HighRisk(t *testing.T) {
	if (Assessment{Score: 49}).HighRisk() {
		t.Error("score 49 should not be high risk")
	}
	if !(Assessment{Score: 50}).HighRisk() {
		t.Error("score 50 should be high risk")
	}
}
