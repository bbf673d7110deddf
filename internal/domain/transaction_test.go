package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0xed05084e", want: "0xed05084e"},
		{in: "ED05084E", want: "0xed05084e"},
		{in: " 0xa9059cbb ", want: "0xa9059cbb"},
		{in: "0xed0508", wantErr: true},
		{in: "0xed05084e00", wantErr: true},
		{in: "0xzz05084e", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		sel, err := ParseSelector(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseSelector(%q) expected error, got %s", tt.in, sel)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSelector(%q) unexpected error: %v", tt.in, err)
		}
		if sel.String() != tt.want {
			t.Fatalf("ParseSelector(%q) = %s want %s", tt.in, sel, tt.want)
		}
	}
}

func TestSelectorMatchesPrefix(t *testing.T) {
	sel := MustParseSelector("0xed05084e")
	cases := []struct {
		name string
		data []byte
		want bool
	}{
		{"exact", []byte{0xed, 0x05, 0x08, 0x4e}, true},
		{"with args", []byte{0xed, 0x05, 0x08, 0x4e, 0x00, 0x01}, true},
		{"short", []byte{0xed, 0x05, 0x08}, false},
		{"empty", nil, false},
		{"different", []byte{0xa9, 0x05, 0x9c, 0xbb}, false},
	}
	for _, c := range cases {
		if got := sel.MatchesPrefix(c.data); got != c.want {
			t.Fatalf("%s: MatchesPrefix = %v want %v", c.name, got, c.want)
		}
	}
}

func TestSelectorBytesIsCopy(t *testing.T) {
	sel := MustParseSelector("0xed05084e")
	b := sel.Bytes()
	b[0] = 0x00
	if sel[0] != 0xed {
		t.Fatalf("mutating Bytes() changed the selector")
	}
}

func TestSelectorUnmarshalText(t *testing.T) {
	var sel Selector
	if err := sel.UnmarshalText([]byte("0xed05084e")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sel != MustParseSelector("ed05084e") {
		t.Fatalf("unexpected selector %s", sel)
	}
}

func TestBusEventEncodeDecode(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := BusEvent{
		Type: EventDetection,
		At:   at,
		Payload: map[string]any{
			"fee_per_gas": big.NewInt(24_000_000_000),
			"to":          common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
			"gas_limit":   uint64(100000),
			"matched":     true,
		},
	}
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeBusEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != EventDetection || !got.At.Equal(at) {
		t.Fatalf("envelope mismatch: %+v", got)
	}
	if got.Payload["fee_per_gas"] != "24000000000" {
		t.Fatalf("fee_per_gas = %v", got.Payload["fee_per_gas"])
	}
	if got.Payload["to"] != "0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9" {
		t.Fatalf("to = %v", got.Payload["to"])
	}
	if got.Payload["gas_limit"] != "100000" {
		t.Fatalf("gas_limit = %v", got.Payload["gas_limit"])
	}
	if got.Payload["matched"] != true {
		t.Fatalf("matched = %v", got.Payload["matched"])
	}
}
