package filter

import "testing"

func TestEvaluate_MinifigCodeRequired(t *testing.T) {
	c := Constraints{ItemKind: "minifig", CollectorCode: "sw0010", ConditionPref: "any"}

	rejected := Evaluate("LEGO Darth Vader Minifigure helmet only", 15, "used", c, Batch{})
	if rejected.Accept {
		t.Error("title without the collector code should be rejected")
	}
	if rejected.Reason != "code not in title" {
		t.Errorf("reason = %q, want %q", rejected.Reason, "code not in title")
	}

	accepted := Evaluate("LEGO Star Wars sw0010 Darth Vader complete minifig", 45, "used", c, Batch{})
	if !accepted.Accept {
		t.Errorf("title with code + complete indicator should pass, got reason %q", accepted.Reason)
	}
}

func TestEvaluate_BodyPartPositionalRule(t *testing.T) {
	c := Constraints{ItemKind: "minifig", CollectorCode: "sw0010", ConditionPref: "any"}

	rejected := Evaluate("LEGO sw0010 Beine Minifigur", 10, "used", c, Batch{})
	if rejected.Accept {
		t.Error("body part word preceding the indicator should reject")
	}

	accepted := Evaluate("LEGO sw0010 Minifigur mit Beinen", 10, "used", c, Batch{})
	if !accepted.Accept {
		t.Errorf("indicator preceding the body part word should pass, got reason %q", accepted.Reason)
	}
}

func TestEvaluate_BrandTokenMissing(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", ConditionPref: "any"}
	d := Evaluate("Star Wars Millennium Falcon 75192 building set", 500, "new", c, Batch{})
	if d.Accept {
		t.Error("missing brand token should reject")
	}
}

func TestEvaluate_SetCatalogNumberMatch(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 400, ConditionPref: "any"}
	d := Evaluate("LEGO Star Wars Millennium Falcon 75192 new sealed", 650, "new", c, Batch{})
	if !d.Accept {
		t.Errorf("catalog number match should pass, got reason %q", d.Reason)
	}
}

func TestEvaluate_SetCatalogNameFallback(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", CatalogName: "Millennium Falcon", MinTotal: 400, ConditionPref: "any"}
	d := Evaluate("LEGO Millennium Falcon collector ship (no box)", 650, "new", c, Batch{})
	if !d.Accept {
		t.Errorf("catalog name token match should pass, got reason %q", d.Reason)
	}
}

func TestEvaluate_ElementNumberRejectsMinifig(t *testing.T) {
	c := Constraints{ItemKind: "minifig", CollectorCode: "sw0010", ConditionPref: "any"}
	d := Evaluate("LEGO sw0010 torso element 973pb1234 loose", 5, "used", c, Batch{})
	if d.Accept {
		t.Error("canonical element number should reject a minifig candidate")
	}
}

func TestEvaluate_NegativeKeywordKnockoff(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 100, ConditionPref: "any"}
	d := Evaluate("LEGO 75192 compatible brick custom build", 300, "new", c, Batch{})
	if d.Accept {
		t.Error("knockoff keyword should reject")
	}
}

func TestEvaluate_UserExcludeWord(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 100, ExcludeWords: []string{"damaged"}, ConditionPref: "any"}
	d := Evaluate("LEGO 75192 Millennium Falcon damaged box", 300, "new", c, Batch{})
	if d.Accept {
		t.Error("user exclude word should reject")
	}
}

func TestEvaluate_SetPosingAsMinifig(t *testing.T) {
	c := Constraints{ItemKind: "minifig", CollectorCode: "sw0010", ConditionPref: "any"}
	d := Evaluate("LEGO sw0010 Star Wars 75192 new sealed set box", 600, "new", c, Batch{})
	if d.Accept {
		t.Error("a boxed set number should reject on a minifig watch")
	}
}

func TestEvaluate_MinifigPriceSanity(t *testing.T) {
	c := Constraints{ItemKind: "minifig", CollectorCode: "sw0010", ConditionPref: "any"}
	tooCheap := Evaluate("LEGO sw0010 complete minifig", 0.10, "used", c, Batch{})
	if tooCheap.Accept {
		t.Error("price below minifig floor should reject")
	}
	tooExpensive := Evaluate("LEGO sw0010 complete minifig", 5000, "used", c, Batch{})
	if tooExpensive.Accept {
		t.Error("price above minifig ceiling should reject")
	}
}

func TestEvaluate_SetPriceBelowMinTotal(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 400, ConditionPref: "any"}
	d := Evaluate("LEGO 75192 Millennium Falcon new sealed", 50, "new", c, Batch{})
	if d.Accept {
		t.Error("price below watch min_total should reject")
	}
}

func TestEvaluate_ConditionMismatch(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 100, ConditionPref: "new"}
	d := Evaluate("LEGO 75192 Millennium Falcon gebraucht used", 300, "used", c, Batch{})
	if d.Accept {
		t.Error("used listing should reject a new-only watch")
	}
}

func TestEvaluate_SuspiciousCheapness(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 100, ConditionPref: "any"}
	batch := Batch{SecondCheapestTotal: 600}
	d := Evaluate("LEGO 75192 Millennium Falcon new sealed", 200, "new", c, batch)
	if d.Accept {
		t.Error("a listing far below the batch reference should reject as suspicious")
	}
}

func TestEvaluate_Determinism(t *testing.T) {
	c := Constraints{ItemKind: "set", CatalogNumber: "75192", MinTotal: 100, ConditionPref: "any"}
	a := Evaluate("LEGO 75192 Millennium Falcon new sealed", 650, "new", c, Batch{})
	b := Evaluate("LEGO 75192 Millennium Falcon new sealed", 650, "new", c, Batch{})
	if a != b {
		t.Error("identical inputs must produce an identical decision")
	}
}
