package cashu

import (
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{amount: 0, expected: []uint64{}},
		{amount: 1, expected: []uint64{1}},
		{amount: 13, expected: []uint64{1, 4, 8}},
		{amount: 63, expected: []uint64{1, 2, 4, 8, 16, 32}},
	}

	for _, test := range tests {
		got := AmountSplit(test.amount)
		if !reflect.DeepEqual(got, test.expected) && !(len(got) == 0 && len(test.expected) == 0) {
			t.Errorf("amount %v: expected %v but got %v", test.amount, test.expected, got)
		}

		var sum uint64
		for _, amt := range got {
			sum += amt
		}
		if sum != test.amount {
			t.Errorf("amount %v: split sums to %v", test.amount, sum)
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	unique := Proofs{
		{Amount: 1, Secret: "a", C: "02aa"},
		{Amount: 2, Secret: "b", C: "02bb"},
	}
	if CheckDuplicateProofs(unique) {
		t.Error("expected no duplicates")
	}

	withDup := Proofs{
		{Amount: 1, Secret: "a", C: "02aa"},
		{Amount: 1, Secret: "a", C: "02aa"},
	}
	if !CheckDuplicateProofs(withDup) {
		t.Error("expected duplicates to be detected")
	}
}

func TestCheckDuplicateBlindedMessages(t *testing.T) {
	unique := BlindedMessages{
		{Amount: 1, B_: "02aa"},
		{Amount: 2, B_: "02bb"},
	}
	if CheckDuplicateBlindedMessages(unique) {
		t.Error("expected no duplicates")
	}

	withDup := BlindedMessages{
		{Amount: 1, B_: "02aa"},
		{Amount: 2, B_: "02aa"},
	}
	if !CheckDuplicateBlindedMessages(withDup) {
		t.Error("expected duplicates to be detected")
	}
}

func TestTokenV3RoundTrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 2, Secret: "407915bc212be61a77e3e6d2aeb4c727980bda51cd06a6afc29e2861768a7837", C: "02bc9097997d81afb2cc7346b5e4345a9346bd2a506eb7958598a72f0cf85163ea"},
		{Amount: 8, Secret: "fe15109314e61d7756b0f8ee0f23a624acaa3f4e042f61433c728c7057b931be", C: "029e8e5050b890a7d6c0968db16bc1d5d5fa040ea1de284f6ec69d61299f671059"},
	}

	token, err := NewTokenV3(proofs, "https://8333.space:3338", Sat)
	if err != nil {
		t.Fatalf("error building token: %v", err)
	}
	token.Memo = "Thank you."

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if serialized[:6] != "cashuA" {
		t.Errorf("expected cashuA prefix, got '%v'", serialized[:6])
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if decoded.Mint() != "https://8333.space:3338" {
		t.Errorf("expected mint url to round-trip, got '%v'", decoded.Mint())
	}
	if decoded.Amount() != 10 {
		t.Errorf("expected amount 10, got %v", decoded.Amount())
	}
	if !reflect.DeepEqual(decoded.Proofs(), proofs) {
		t.Errorf("expected proofs %v but got %v", proofs, decoded.Proofs())
	}
}

func TestTokenV4RoundTrip(t *testing.T) {
	proofs := Proofs{
		{Amount: 1, Secret: "9a6dbb847bd232ba76db0df197216b29d3b8cc14553cd27827fc1cc942fedb4e", C: "038618543ffb6b8695df4ad4babcde92a34a96bdcd97dcee0d7ccf98d472126792"},
	}

	token, err := NewTokenV4(proofs, "http://localhost:3338", Sat)
	if err != nil {
		t.Fatalf("error building token: %v", err)
	}
	token.Memo = "Thank you"

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("error serializing token: %v", err)
	}
	if serialized[:6] != "cashuB" {
		t.Errorf("expected cashuB prefix, got '%v'", serialized[:6])
	}

	decoded, err := DecodeToken(serialized)
	if err != nil {
		t.Fatalf("error decoding token: %v", err)
	}

	if decoded.Mint() != "http://localhost:3338" {
		t.Errorf("expected mint url to round-trip, got '%v'", decoded.Mint())
	}
	if decoded.Amount() != 1 {
		t.Errorf("expected amount 1, got %v", decoded.Amount())
	}
	if !reflect.DeepEqual(decoded.Proofs(), proofs) {
		t.Errorf("expected proofs %v but got %v", proofs, decoded.Proofs())
	}
}
