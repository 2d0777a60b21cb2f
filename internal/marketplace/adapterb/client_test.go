package adapterb

import "testing"

func TestContainsFold_CaseInsensitive(t *testing.T) {
	if !containsFold("Star Wars X-Wing Fighter", "x-wing") {
		t.Error("expected case-insensitive substring match")
	}
	if containsFold("Star Wars X-Wing Fighter", "millennium falcon") {
		t.Error("unexpected match")
	}
}

func TestContainsFold_EmptyNeedle(t *testing.T) {
	if containsFold("anything", "") {
		t.Error("empty needle should never match")
	}
}

func TestContainsFold_NeedleLongerThanHaystack(t *testing.T) {
	if containsFold("hi", "hello there") {
		t.Error("needle longer than haystack cannot match")
	}
}
