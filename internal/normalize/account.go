package normalize

// Holding はアカウントに記録された物件ごとの保有株数。
type Holding struct {
	PropertyID  uint64  `json:"propertyId"`
	SharesOwned float64 `json:"shares"`
}

// AccountSummary はユーザーの投資サマリー。
type AccountSummary struct {
	TotalInvestment float64 `json:"totalInvestment"`
	CurrentValue    float64 `json:"currentValue"`
	TotalReturn     float64 `json:"totalReturn"`
	MonthlyIncome   float64 `json:"monthlyIncome"`
	// ReturnPct = round2(総リターン / 総投資額 × 100)。総投資額が0なら0。
	ReturnPct            float64   `json:"returnPct"`
	RegisteredProperties []uint64  `json:"registeredProperties"`
	InvestedProperties   []Holding `json:"investedProperties"`
	FormulaVersion       int       `json:"formulaVersion"`
}

// NormalizeAccountSummary はget_user_dataの結果を正規化する。
func NormalizeAccountSummary(raw RawRecord) AccountSummary {
	investment := Number(raw["total_investment"])
	ret := Number(raw["total_return"])

	pct := 0.0
	if investment != 0 {
		pct = round2(ret / investment * 100)
	}

	registered := []uint64{}
	for _, v := range List(raw["user_registered_properties"]) {
		registered = append(registered, ID(v))
	}
	invested := []Holding{}
	for _, v := range List(raw["user_invested_properties"]) {
		rec := Record(v)
		invested = append(invested, Holding{
			PropertyID:  ID(rec["property_id"]),
			SharesOwned: Number(rec["shares_owned"]),
		})
	}

	return AccountSummary{
		TotalInvestment:      investment,
		CurrentValue:         Number(raw["current_value"]),
		TotalReturn:          ret,
		MonthlyIncome:        Number(raw["monthly_income"]),
		ReturnPct:            pct,
		RegisteredProperties: registered,
		InvestedProperties:   invested,
		FormulaVersion:       FormulaVersion,
	}
}
