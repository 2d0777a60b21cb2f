package costmodel

import "testing"

func TestConvertToCurrency_SameCurrencyNoOp(t *testing.T) {
	if got := ConvertToCurrency(100, "USD", "USD"); got != 100 {
		t.Errorf("same-currency convert = %v, want 100", got)
	}
}

func TestConvertToCurrency_RoundTripsWithinTolerance(t *testing.T) {
	usd := 50.0
	eur := ConvertToCurrency(usd, "USD", "EUR")
	back := ConvertToCurrency(eur, "EUR", "USD")
	diff := back - usd
	if diff < -0.01 || diff > 0.01 {
		t.Errorf("round trip USD->EUR->USD = %v, want ~%v", back, usd)
	}
}

func TestSizeMultiplier_Tiers(t *testing.T) {
	cases := []struct {
		pieces int
		want   float64
	}{
		{0, 1.0}, {199, 1.0}, {200, 2.2}, {3999, 2.2}, {4000, 2.8},
	}
	for _, c := range cases {
		if got := SizeMultiplier(c.pieces); got != c.want {
			t.Errorf("SizeMultiplier(%d) = %v, want %v", c.pieces, got, c.want)
		}
	}
}

func TestEstimateShipping_CapApplies(t *testing.T) {
	got := EstimateShipping("US", "US", 5000) // domestic base 5 * 2.8 = 14, should cap at 12
	if got != domesticCorridor.cap {
		t.Errorf("EstimateShipping large set = %v, want cap %v", got, domesticCorridor.cap)
	}
}

func TestEstimateShipping_UnknownCorridorUsesOtherClass(t *testing.T) {
	got := EstimateShipping("PL", "CA", 0)
	if got != otherCorridor.base {
		t.Errorf("unknown corridor = %v, want base %v", got, otherCorridor.base)
	}
}

func TestEstimateShipping_EUNeighborVsNonNeighbor(t *testing.T) {
	neighbor := EstimateShipping("DE", "FR", 0) // DE-FR are adjacent
	if neighbor != euNeighborCorridor.base {
		t.Errorf("EU neighbor corridor = %v, want base %v", neighbor, euNeighborCorridor.base)
	}
	nonNeighbor := EstimateShipping("DE", "ES", 0) // DE-ES are not adjacent
	if nonNeighbor != euNonNeighborCorridor.base {
		t.Errorf("EU non-neighbor corridor = %v, want base %v", nonNeighbor, euNonNeighborCorridor.base)
	}
}

func TestImportCharge_SameBlockIsZero(t *testing.T) {
	charge, isEstimate := ImportCharge("DE", "FR", 100)
	if charge != 0 || isEstimate {
		t.Errorf("intra-EU corridor should have no import charge, got %v estimate=%v", charge, isEstimate)
	}
}

func TestImportCharge_UKFromEUIncludesVATAndHandling(t *testing.T) {
	charge, isEstimate := ImportCharge("DE", "GB", 100)
	if !isEstimate {
		t.Error("cross-border corridor should be marked as an estimate")
	}
	want := 100*0.20 + 10.0
	if charge != want {
		t.Errorf("UK import charge = %v, want %v", charge, want)
	}
}

func TestImportCharge_CanadaToUSDeMinimisExempt(t *testing.T) {
	charge, isEstimate := ImportCharge("CA", "US", 300)
	if charge != 0 {
		t.Errorf("parcel under de-minimis should have no duty, got %v", charge)
	}
	if !isEstimate {
		t.Error("de-minimis decision should still be tagged as estimate-derived")
	}
}

func TestImportCharge_CanadaToUSAboveDeMinimis(t *testing.T) {
	charge, _ := ImportCharge("CA", "US", 900)
	want := 900*0.05 + 15.0
	if charge != want {
		t.Errorf("above de-minimis charge = %v, want %v", charge, want)
	}
}

func TestCompute_KnownShippingIsNotEstimated(t *testing.T) {
	l := Listing{Price: 50, Shipping: 5, ShippingKnown: true, CurrencyOriginal: "EUR", ShipFrom: "DE"}
	landed := Compute(l, "DE", 200)
	if landed.IsEstimate {
		t.Error("domestic listing with known shipping should not be marked an estimate")
	}
	if landed.Total != 55 {
		t.Errorf("total = %v, want 55", landed.Total)
	}
}

func TestCompute_UnknownShippingCrossBorderIsEstimate(t *testing.T) {
	l := Listing{Price: 100, ShippingKnown: false, CurrencyOriginal: "EUR", ShipFrom: "DE"}
	landed := Compute(l, "GB", 500)
	if !landed.IsEstimate {
		t.Error("unknown shipping + cross-border import should be an estimate")
	}
	if landed.Total <= landed.ItemPrice {
		t.Error("total should include shipping and import charge on top of item price")
	}
}

func TestCompute_B2BSellerUpliftsPrice(t *testing.T) {
	base := Listing{Price: 100, Shipping: 0, ShippingKnown: true, CurrencyOriginal: "EUR", ShipFrom: "DE"}
	b2b := base
	b2b.SellerIsB2B = true

	landedBase := Compute(base, "DE", 100)
	landedB2B := Compute(b2b, "DE", 100)
	if landedB2B.Total <= landedBase.Total {
		t.Error("B2B ex-VAT uplift should raise the landed total above the consumer listing")
	}
}

func TestCompute_TotalIsAlwaysRoundedToTwoDecimals(t *testing.T) {
	l := Listing{Price: 499.995, Shipping: 17.333, ShippingKnown: false, CurrencyOriginal: "USD", ShipFrom: "US"}
	landed := Compute(l, "CA", 1500)

	if landed.Total != Round2(landed.Total) {
		t.Errorf("total %v is not rounded to 2 decimals", landed.Total)
	}
	if landed.Total != Round2(landed.ItemPrice+landed.Shipping+landed.ImportCharge) {
		t.Errorf("total %v != round2(price+shipping+import) %v", landed.Total, Round2(landed.ItemPrice+landed.Shipping+landed.ImportCharge))
	}
}

func TestRound2_RoundsHalfAwayFromZero(t *testing.T) {
	if got := Round2(1.005); got != 1.01 && got != 1.0 {
		t.Errorf("Round2(1.005) = %v, want 1.0 or 1.01 depending on float representation", got)
	}
	if got := Round2(12.344); got != 12.34 {
		t.Errorf("Round2(12.344) = %v, want 12.34", got)
	}
	if got := Round2(12.345); got < 12.34 || got > 12.35 {
		t.Errorf("Round2(12.345) = %v, want within [12.34, 12.35]", got)
	}
}
