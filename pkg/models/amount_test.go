package models

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{in: "5", want: Whole(5)},
		{in: "2.50", want: 2_500_000},
		{in: "0.000001", want: 1},
		{in: ".5", want: 500_000},
		{in: "-1.25", want: -1_250_000},
		{in: "1.0000001", wantErr: true},
		{in: "1e3", wantErr: true},
		{in: "", wantErr: true},
		{in: ".", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAmount(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestAmount_StringAndJSON(t *testing.T) {
	if s := Whole(5).String(); s != "5.00" {
		t.Errorf("String() = %q, want 5.00", s)
	}
	if s := Amount(1_234_500).String(); s != "1.2345" {
		t.Errorf("String() = %q, want 1.2345", s)
	}
	b, _ := json.Marshal(struct {
		A Amount `json:"a"`
	}{Whole(5)})
	if string(b) != `{"a":5}` {
		t.Errorf("Marshal = %s", b)
	}

	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":2.5,"b":"0.75"}`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v.A != 2_500_000 || v.B != 750_000 {
		t.Errorf("Unmarshal = %d %d", v.A, v.B)
	}
}

func TestAmount_BaseUnitsRoundTrip(t *testing.T) {
	a := Amount(2_500_000)
	eighteen := a.BaseUnits(18)
	want, _ := new(big.Int).SetString("2500000000000000000", 10)
	if eighteen.Cmp(want) != 0 {
		t.Errorf("BaseUnits(18) = %s, want %s", eighteen, want)
	}
	if got := AmountFromBaseUnits(eighteen, 18); got != a {
		t.Errorf("AmountFromBaseUnits = %d, want %d", got, a)
	}
	if got := a.BaseUnits(2); got.Int64() != 250 {
		t.Errorf("BaseUnits(2) = %s, want 250", got)
	}
	if got := AmountFromBaseUnits(nil, 6); got != 0 {
		t.Errorf("AmountFromBaseUnits(nil) = %d", got)
	}
}

func TestValidateHandle(t *testing.T) {
	got, err := ValidateHandle("handle", "  @Alice_01 ")
	if err != nil || got != "alice_01" {
		t.Errorf("ValidateHandle = %q, %v", got, err)
	}
	for _, bad := range []string{"", "@", "has space", "UPPER-dash", "a234567890123456789012345678901"} {
		if _, err := ValidateHandle("handle", bad); err == nil {
			t.Errorf("ValidateHandle(%q) error = nil", bad)
		}
	}
}

func TestValidateIDsAndProof(t *testing.T) {
	if err := ValidateRewardID(NewID(RewardIDPrefix)); err != nil {
		t.Errorf("generated reward id rejected: %v", err)
	}
	if err := ValidateBountyID(NewID(BountyIDPrefix)); err != nil {
		t.Errorf("generated bounty id rejected: %v", err)
	}
	if err := ValidateRewardID("rwd_../../etc"); err == nil {
		t.Error("path-like reward id accepted")
	}
	if _, err := ValidateProofURL("javascript:alert(1)"); err == nil {
		t.Error("non-http proof accepted")
	}
	if u, err := ValidateProofURL(" https://github.com/a/b/pull/1 "); err != nil || u != "https://github.com/a/b/pull/1" {
		t.Errorf("ValidateProofURL = %q, %v", u, err)
	}
}
