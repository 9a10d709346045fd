package mbbridge

import (
	"testing"
)

func TestParseIntListSingles(t *testing.T) {
	var out []int
	var err error

	out, err = ParseIntList("1,5,3")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 3 || out[0] != 1 || out[1] != 5 || out[2] != 3 {
		t.Errorf("expected [1 5 3], got %v", out)
	}

	return
}

func TestParseIntListRanges(t *testing.T) {
	var out []int
	var err error

	// ascending range
	out, err = ParseIntList("3:5")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 3 || out[0] != 3 || out[1] != 4 || out[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", out)
	}

	// reversed bounds normalize to the same ascending expansion
	out, err = ParseIntList("5:3,8")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 4 || out[0] != 3 || out[1] != 4 || out[2] != 5 || out[3] != 8 {
		t.Errorf("expected [3 4 5 8], got %v", out)
	}

	// degenerate range yields exactly one value
	out, err = ParseIntList("7:7")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 1 || out[0] != 7 {
		t.Errorf("expected [7], got %v", out)
	}

	return
}

func TestParseIntListBases(t *testing.T) {
	var out []int
	var err error

	out, err = ParseIntList("0x10,010,-2")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 3 || out[0] != 16 || out[1] != 8 || out[2] != -2 {
		t.Errorf("expected [16 8 -2], got %v", out)
	}

	return
}

func TestParseIntListEmpty(t *testing.T) {
	var out []int
	var err error

	out, err = ParseIntList("")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected an empty list, got %v", out)
	}

	return
}

func TestParseIntListMalformed(t *testing.T) {
	var out []int
	var err error
	var inputs = []string{
		"1,,2",
		"1:2:3",
		"abc",
		"1,",
		",1",
		",",
		"5:",
		":5",
		"::",
		"1 2",
		"3;5",
	}

	for _, in := range inputs {
		out, err = ParseIntList(in)
		if err == nil {
			t.Errorf("expected a syntax error for '%s', got %v", in, out)
		}
		if len(out) != 0 {
			t.Errorf("expected no partial result for '%s', got %v", in, out)
		}
	}

	return
}

func TestParseIntListLengthMatchesScan(t *testing.T) {
	var out []int
	var n int
	var err error
	var inputs = []string{
		"",
		"1",
		"1,2,3",
		"10:20",
		"20:10",
		"1,5:3,0x10,8",
	}

	// the first pass count must always match the second pass output length
	for _, in := range inputs {
		n, err = scanIntList(in, nil)
		if err != nil {
			t.Fatalf("expected success for '%s', got %v", in, err)
		}

		out, err = ParseIntList(in)
		if err != nil {
			t.Fatalf("expected success for '%s', got %v", in, err)
		}
		if len(out) != n {
			t.Errorf("first pass counted %d for '%s', second pass produced %d",
				n, in, len(out))
		}
	}

	return
}
