package model

import "testing"

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want Money
		ok   bool
	}{
		{"1000", 100000, true},
		{"850.5", 85050, true},
		{"150.00", 15000, true},
		{"-3.25", -325, true},
		{"0.07", 7, true},
		{"", 0, false},
		{"1.234", 0, false},
		{"1.", 0, false},
		{".5", 0, false},
		{"1e3", 0, false},
		{"+5", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseMoney(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseMoney(%q) expected error, got %d", tc.in, got)
		}
	}
}

func TestMoneyString(t *testing.T) {
	if got := Money(85000).String(); got != "850.00" {
		t.Fatalf("expected 850.00, got %s", got)
	}
	if got := Money(-5).String(); got != "-0.05" {
		t.Fatalf("expected -0.05, got %s", got)
	}
}

func TestMoneyUnmarshalAcceptsNumberAndString(t *testing.T) {
	var a, b Money
	if err := a.UnmarshalJSON([]byte(`15`)); err != nil || a != 1500 {
		t.Fatalf("number form: %d %v", a, err)
	}
	if err := b.UnmarshalJSON([]byte(`"12.50"`)); err != nil || b != 1250 {
		t.Fatalf("string form: %d %v", b, err)
	}
}

func TestPaymentFinalAmount(t *testing.T) {
	p := Payment{Amount: 100000, DiscountAmount: 15000}
	if p.FinalAmount() != 85000 {
		t.Fatalf("expected 85000, got %d", p.FinalAmount())
	}
	p.DiscountAmount = 0
	if p.FinalAmount() != 100000 {
		t.Fatalf("expected base amount unchanged, got %d", p.FinalAmount())
	}
}
