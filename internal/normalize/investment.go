package normalize

// Investment はユーザーが保有する物件持分。
type Investment struct {
	Property    Property `json:"property"`
	SharesOwned float64  `json:"shares"`
	// TotalShares = 残り株数 + 保有株数
	TotalShares float64 `json:"totalShares"`
	// Investment = 1株価格 × 保有株数
	Investment float64 `json:"investment"`
	// CurrentValue は物件の総評価額。
	CurrentValue  float64 `json:"currentValue"`
	MonthlyIncome float64 `json:"monthlyIncome"`
	// OwnershipPct は保有比率 (0〜1)。総株数が0の場合は分母を1として計算する。
	OwnershipPct   float64 `json:"ownershipPct"`
	FormulaVersion int     `json:"formulaVersion"`
}

// NormalizeInvestment は {shares_owned, property} 形式の保有レコードを正規化する。
func NormalizeInvestment(raw RawRecord) Investment {
	prop := NormalizeProperty(Record(raw["property"]))
	owned := Number(raw["shares_owned"])

	total := prop.AvailableShares + owned
	denominator := total
	if denominator == 0 {
		denominator = 1
	}

	return Investment{
		Property:       prop,
		SharesOwned:    owned,
		TotalShares:    total,
		Investment:     finite(prop.PricePerShare * owned),
		CurrentValue:   prop.TotalValue,
		MonthlyIncome:  prop.MonthlyIncome,
		OwnershipPct:   finite(owned / denominator),
		FormulaVersion: FormulaVersion,
	}
}

// NormalizeInvestments は保有レコードの配列を正規化する。
func NormalizeInvestments(raws []any) []Investment {
	out := make([]Investment, 0, len(raws))
	for _, r := range raws {
		out = append(out, NormalizeInvestment(Record(r)))
	}
	return out
}
