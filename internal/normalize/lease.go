package normalize

// LeaseStatuses はリース状態の既知タグ。
var LeaseStatuses = []string{"Active", "Terminated", "Pending"}

// Lease は正規化済みのリース契約。
type Lease struct {
	LeaseID           uint64  `json:"leaseId"`
	PropertyID        uint64  `json:"propertyId"`
	Tenant            string  `json:"tenant"`
	TenantName        string  `json:"tenantName"`
	TenantEmail       string  `json:"tenantEmail"`
	TenantPhone       string  `json:"tenantPhone"`
	StartDate         string  `json:"startDate"`
	EndDate           string  `json:"endDate"`
	MonthlyRent       float64 `json:"monthlyRent"`
	SecurityDeposit   float64 `json:"securityDeposit"`
	Terms             string  `json:"terms"`
	SpecialConditions string  `json:"specialConditions"`
	Status            string  `json:"status"`
}

// NormalizeLease はリースレコードを正規化する。
func NormalizeLease(raw RawRecord) Lease {
	return Lease{
		LeaseID:           ID(raw["lease_id"]),
		PropertyID:        ID(raw["property_id"]),
		Tenant:            Text(raw["tenant"]),
		TenantName:        TextOr(raw["tenant_name"], NotAvailable),
		TenantEmail:       Text(raw["tenant_email"]),
		TenantPhone:       Text(raw["tenant_phone"]),
		StartDate:         TextOr(raw["lease_start_date"], NotAvailable),
		EndDate:           TextOr(raw["lease_end_date"], NotAvailable),
		MonthlyRent:       Number(raw["monthly_rent"]),
		SecurityDeposit:   Number(raw["security_deposit"]),
		Terms:             Text(raw["lease_terms"]),
		SpecialConditions: Text(raw["special_conditions"]),
		Status:            knownVariant(raw["status"], LeaseStatuses, NotAvailable),
	}
}

// NormalizeLeases はリースレコードの配列を正規化する。
func NormalizeLeases(raws []any) []Lease {
	out := make([]Lease, 0, len(raws))
	for _, r := range raws {
		out = append(out, NormalizeLease(Record(r)))
	}
	return out
}
