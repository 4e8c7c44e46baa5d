package digest

import "testing"

func TestSumIsDeterministicAndValidHex(t *testing.T) {
	data := []byte("the quick brown fox")
	d1 := Sum(data)
	d2 := Sum(data)

	if d1 != d2 {
		t.Fatalf("Sum is not deterministic: %q != %q", d1, d2)
	}
	if !Valid(d1) {
		t.Fatalf("digest %q is not valid hex of length %d", d1, HexLen)
	}
}

func TestSumDiffersForDifferentInputs(t *testing.T) {
	if Sum([]byte("a")) == Sum([]byte("b")) {
		t.Fatal("expected different digests for different inputs")
	}
}

func TestRootDigestLaw(t *testing.T) {
	digests := []string{Sum([]byte("chunk0")), Sum([]byte("chunk1")), Sum([]byte("chunk2"))}

	var concat string
	for _, d := range digests {
		concat += d
	}
	want := Sum([]byte(concat))

	got := RootDigest(digests)
	if got != want {
		t.Errorf("RootDigest = %q, want %q", got, want)
	}
}

func TestRootDigestOrderSensitive(t *testing.T) {
	a := Sum([]byte("a"))
	b := Sum([]byte("b"))

	if RootDigest([]string{a, b}) == RootDigest([]string{b, a}) {
		t.Error("RootDigest should depend on chunk order")
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"ZZ" + Sum([]byte("x"))[2:],
		Sum([]byte("x"))[:63],
	}
	for _, c := range cases {
		if Valid(c) {
			t.Errorf("Valid(%q) = true, want false", c)
		}
	}
}
