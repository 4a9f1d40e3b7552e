package dedupe

import "testing"

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("Nike Air Max 90 size 42")
	b := Fingerprint("Nike Air Max 90 size 42")
	if a != b {
		t.Fatalf("same text, different fingerprints: %x vs %x", a, b)
	}
	if a == 0 {
		t.Fatal("non-empty text produced zero fingerprint")
	}
}

func TestFingerprintCaseInsensitive(t *testing.T) {
	if Fingerprint("NIKE air max 90") != Fingerprint("nike Air Max 90") {
		t.Error("fingerprints should ignore case")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(0b1010, 0b1010); d != 0 {
		t.Errorf("Distance(x, x) = %d, want 0", d)
	}
	if d := Distance(0b1010, 0b0101); d != 4 {
		t.Errorf("Distance = %d, want 4", d)
	}
}

func TestDeduperNearDuplicates(t *testing.T) {
	d := NewDeduper(3)

	if d.Seen("Nike Air Max 90 size 42") {
		t.Error("first occurrence flagged as duplicate")
	}
	if !d.Seen("Nike Air Max 90 size 42") {
		t.Error("exact repeat not flagged")
	}
	if !d.Seen("nike air max 90 SIZE 42") {
		t.Error("case variant not flagged")
	}
	if d.Seen("Adidas Gazelle blue suede size 44") {
		t.Error("unrelated title flagged as duplicate")
	}
}

func TestDeduperEmptyKeys(t *testing.T) {
	d := NewDeduper(0)
	if d.Seen("") || d.Seen("   ") {
		t.Error("empty keys must never count as duplicates")
	}
}
