package normalize

import (
	"fmt"
	"strconv"
	"strings"
)

// PropertyTypes は物件種別の既知タグ。
var PropertyTypes = []string{"Residential", "Industrial", "Commercial", "MixedUse"}

// Amenities は設備の既知タグ。
var Amenities = []string{
	"Parking", "Pool", "Gym", "Security", "Garden",
	"Balcony", "AirConditioning", "Heating", "Elevator", "Storage",
}

const (
	noDescription = "No description provided."
	noAddress     = "No address available"
)

// Address は物件の所在地。
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zipcode uint64 `json:"zipcode"`
	// Text は表示用の1行表記。所在地がない場合は "No address available"。
	Text string `json:"text"`
}

// Financials は物件の月次収支。経費はバックエンドが提供しないため常に0。
type Financials struct {
	MonthlyIncome    float64 `json:"monthlyIncome"`
	MonthlyExpenses  float64 `json:"monthlyExpenses"`
	NetMonthlyIncome float64 `json:"netMonthlyIncome"`
	AnnualReturnPct  float64 `json:"annualReturnPct"`
}

// Property は正規化済みの物件。
type Property struct {
	ID              uint64     `json:"id"`
	Title           string     `json:"title"`
	PropertyType    string     `json:"propertyType"`
	Address         Address    `json:"address"`
	Description     string     `json:"description"`
	TotalValue      float64    `json:"totalValue"`
	AvailableShares float64    `json:"availableShares"`
	PricePerShare   float64    `json:"pricePerShare"`
	TotalShares     float64    `json:"totalShares"`
	MonthlyIncome   float64    `json:"monthlyIncome"`
	CollectedRent   float64    `json:"collectedRent"`
	Amenities       []string   `json:"amenities"`
	Images          []string   `json:"images"`
	Owner           string     `json:"owner"`
	Financials      Financials `json:"financials"`
	CreatedAt       string     `json:"createdAt"`
	FormulaVersion  int        `json:"formulaVersion"`
}

// MatchesType は物件種別がfilterと大文字小文字を区別せずに一致するかを返す。
// 空のfilterは全てに一致する。
func (p Property) MatchesType(filter string) bool {
	filter = strings.TrimSpace(filter)
	return filter == "" || strings.EqualFold(p.PropertyType, filter)
}

// NormalizeProperty は物件レコードを正規化する。
func NormalizeProperty(raw RawRecord) Property {
	fin := Record(raw["financial_details"])
	totalValue := Number(fin["total_property_value"])
	price := Number(fin["price_per_share"])
	rent := Number(raw["monthly_rent"])
	id := ID(raw["id"])

	annual := 0.0
	if totalValue != 0 {
		annual = round2(rent * 12 / totalValue * 100)
	}

	return Property{
		ID:              id,
		Title:           TextOr(raw["title"], "Property #"+strconv.FormatUint(id, 10)),
		PropertyType:    knownVariant(raw["property_type"], PropertyTypes, Unknown),
		Address:         normalizeAddress(raw["address"]),
		Description:     TextOr(raw["property_description"], noDescription),
		TotalValue:      totalValue,
		AvailableShares: Number(fin["available_shares"]),
		PricePerShare:   price,
		TotalShares:     ratio(totalValue, price),
		MonthlyIncome:   rent,
		CollectedRent:   Number(raw["collected_rent"]),
		Amenities:       normalizeAmenities(raw["amenities"]),
		Images:          normalizeImages(raw["images"]),
		Owner:           Text(raw["owner"]),
		Financials: Financials{
			MonthlyIncome:    rent,
			MonthlyExpenses:  0,
			NetMonthlyIncome: rent,
			AnnualReturnPct:  annual,
		},
		CreatedAt:      TextOr(raw["created_at"], NotAvailable),
		FormulaVersion: FormulaVersion,
	}
}

// NormalizeProperties は物件レコードの配列を正規化する。マップでない要素は空レコードとして扱う。
func NormalizeProperties(raws []any) []Property {
	out := make([]Property, 0, len(raws))
	for _, r := range raws {
		out = append(out, NormalizeProperty(Record(r)))
	}
	return out
}

func normalizeAddress(v any) Address {
	rec := Record(v)
	if rec == nil {
		return Address{Text: noAddress}
	}
	a := Address{
		Street:  Text(rec["street"]),
		City:    Text(rec["city"]),
		State:   Text(rec["state"]),
		Zipcode: ID(rec["zipcode"]),
	}
	var parts []string
	for _, s := range []string{a.Street, a.City, a.State} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, ", ")
	if a.Zipcode != 0 {
		text = strings.TrimSpace(fmt.Sprintf("%s %d", text, a.Zipcode))
	}
	if text == "" {
		text = noAddress
	}
	a.Text = text
	return a
}

// normalizeAmenities は既知の設備タグのみを順序と重複を保って返す。
func normalizeAmenities(v any) []string {
	out := []string{}
	for _, item := range List(v) {
		if tag := knownVariant(item, Amenities, ""); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func normalizeImages(v any) []string {
	out := []string{}
	for _, item := range List(v) {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
