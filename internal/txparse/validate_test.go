package txparse

import "testing"

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		name    string
		addr    string
		network Network
		want    bool
	}{
		{"valid testnet", wantInputAddr, Testnet, true},
		{"wrong network", wantInputAddr, Mainnet, false},
		{"garbage", "not-an-address", Testnet, false},
		{"empty", "", Testnet, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ValidateAddress(c.addr, c.network); got != c.want {
				t.Errorf("ValidateAddress(%q, %v) = %v, want %v", c.addr, c.network, got, c.want)
			}
		})
	}
}
