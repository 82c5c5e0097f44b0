package gate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEvaluate(t *testing.T) {
	target := d("0.04")

	tests := []struct {
		name      string
		pos       *types.Position
		want      State
		malformed bool
	}{
		{
			name: "absent position is flat",
			pos:  nil,
			want: StateFlat,
		},
		{
			name: "zero volume is flat",
			pos:  &types.Position{Volume: 0, AvgPrice: d("6.20")},
			want: StateFlat,
		},
		{
			// cost = 12,400, ratio = 0.05 > 0.04
			name: "ratio above target triggers exit",
			pos:  &types.Position{Volume: 2000, AvgPrice: d("6.20"), UnrealizedPnL: d("620")},
			want: StateHoldingProfitable,
		},
		{
			// ratio ~= 0.032
			name: "ratio below target holds",
			pos:  &types.Position{Volume: 2000, AvgPrice: d("6.20"), UnrealizedPnL: d("400")},
			want: StateHoldingBelowTarget,
		},
		{
			// ratio == 0.04 exactly, strict comparison
			name: "ratio equal to target holds",
			pos:  &types.Position{Volume: 2000, AvgPrice: d("6.20"), UnrealizedPnL: d("496")},
			want: StateHoldingBelowTarget,
		},
		{
			name: "losing position holds",
			pos:  &types.Position{Volume: 2000, AvgPrice: d("6.20"), UnrealizedPnL: d("-300")},
			want: StateHoldingBelowTarget,
		},
		{
			name:      "zero cost is guarded",
			pos:       &types.Position{Volume: 2000, AvgPrice: decimal.Zero, UnrealizedPnL: d("620")},
			want:      StateHoldingBelowTarget,
			malformed: true,
		},
		{
			name:      "negative cost is guarded",
			pos:       &types.Position{Volume: 100, AvgPrice: d("-1"), UnrealizedPnL: d("620")},
			want:      StateHoldingBelowTarget,
			malformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.pos, nil, target)
			if got.State != tt.want {
				t.Errorf("State = %s, want %s", got.State, tt.want)
			}
			if got.Malformed != tt.malformed {
				t.Errorf("Malformed = %v, want %v", got.Malformed, tt.malformed)
			}
		})
	}
}

func TestEvaluate_ReturnRatio(t *testing.T) {
	pos := &types.Position{Volume: 2000, AvgPrice: d("6.20"), UnrealizedPnL: d("620")}

	got := Evaluate(pos, &types.Quote{}, d("0.04"))
	if !got.ReturnRatio.Equal(d("0.05")) {
		t.Errorf("ReturnRatio = %s, want 0.05", got.ReturnRatio)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateFlat, "flat"},
		{StateHoldingProfitable, "holding_profitable"},
		{StateHoldingBelowTarget, "holding_below_target"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
