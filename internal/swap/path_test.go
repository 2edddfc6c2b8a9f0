package swap

import (
	stdErrors "errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestBuildPath(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	base := common.HexToAddress("0x03")

	cases := []struct {
		name    string
		in, out common.Address
		want    []common.Address
		err     error
	}{
		{"routed through base", a, b, []common.Address{a, base, b}, nil},
		{"input is base", base, b, []common.Address{base, b}, nil},
		{"output is base", a, base, []common.Address{a, base}, nil},
		{"identical", a, a, nil, ErrInvalidPath},
		{"zero input", common.Address{}, b, nil, ErrInvalidPath},
		{"zero output", a, common.Address{}, nil, ErrInvalidPath},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildPath(tc.in, tc.out, base)
			if tc.err != nil {
				if !stdErrors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestNewConfigRejectsZeroAddresses(t *testing.T) {
	if _, err := NewConfig(common.Address{}, common.HexToAddress("0x03")); !stdErrors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config for zero router, got %v", err)
	}
	if _, err := NewConfig(common.HexToAddress("0x03"), common.Address{}); !stdErrors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config for zero base, got %v", err)
	}
	cfg, err := NewConfig(common.HexToAddress("0x04"), common.HexToAddress("0x03"))
	if err != nil || cfg.Router() != common.HexToAddress("0x04") || cfg.BaseAsset() != common.HexToAddress("0x03") {
		t.Fatalf("unexpected config %+v err=%v", cfg, err)
	}
}

func TestDeadlinePolicyResolve(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	explicit := now.Add(time.Hour)

	p := DeadlinePolicy{Offset: 5 * time.Minute, Now: func() time.Time { return now }}
	if got := p.Resolve(explicit); !got.Equal(explicit) {
		t.Fatalf("explicit deadline should win, got %s", got)
	}
	if got := p.Resolve(time.Time{}); !got.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected offset deadline, got %s", got)
	}
	if got := (DeadlinePolicy{}).Resolve(time.Time{}); !got.IsZero() {
		t.Fatalf("expected unbounded deadline, got %s", got)
	}
	if !p.Expired(now.Add(-time.Second)) || p.Expired(now) || p.Expired(time.Time{}) {
		t.Fatalf("unexpected Expired results")
	}
}

func TestQuoteMinAmountOut(t *testing.T) {
	q := Quote{Amounts: []*big.Int{big.NewInt(1000), big.NewInt(2001)}}
	if got := q.MinAmountOut(50); got.Cmp(big.NewInt(1990)) != 0 {
		t.Fatalf("expected 1990, got %s", got)
	}
	if got := q.MinAmountOut(0); got.Cmp(big.NewInt(2001)) != 0 {
		t.Fatalf("expected 2001, got %s", got)
	}
	if got := q.MinAmountOut(10_000); got.Sign() != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := (Quote{}).AmountOut(); got.Sign() != 0 {
		t.Fatalf("empty quote should have zero output")
	}
}

func TestRequestMinOutDefaultsToZero(t *testing.T) {
	req := Request{}
	if req.MinOut().Sign() != 0 {
		t.Fatalf("nil MinAmountOut should be zero")
	}
}
