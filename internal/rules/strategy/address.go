package strategy

import (
	"encoding/json"
	"strings"
)

// AddressComponents is the structured decomposition an address strategy
// can produce when validateComponents is requested.
type AddressComponents struct {
	Province      string `json:"province"`
	City          string `json:"city"`
	District      string `json:"district"`
	AddressDetail string `json:"addressDetail"`
}

// AddressStrategy validates (and optionally decomposes) a free-text
// address. Params: {requireProvince?, requireCity?, requireDistrict?,
// validateComponents?}.
//
// The input value is expected to be either a plain address string (in
// which case only non-emptiness is checked against the required
// components) or a JSON object matching AddressComponents, produced by an
// upstream address-splitting step. This mirrors how the spreadsheet rows
// in spec.md S1 carry province/city/district as separate columns that
// downstream consumers may also want combined.
type AddressStrategy struct{}

func (s *AddressStrategy) ValidateParams(params map[string]interface{}) error {
	return nil
}

func (s *AddressStrategy) Validate(value string, params map[string]interface{}, ctx Context) Result {
	requireProvince, _ := params["requireProvince"].(bool)
	requireCity, _ := params["requireCity"].(bool)
	requireDistrict, _ := params["requireDistrict"].(bool)
	validateComponents, _ := params["validateComponents"].(bool)

	comp := AddressComponents{AddressDetail: value}
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		_ = json.Unmarshal([]byte(value), &comp)
	} else {
		comp.Province = ctx.Row["province"]
		comp.City = ctx.Row["city"]
		comp.District = ctx.Row["district"]
	}

	if requireProvince && strings.TrimSpace(comp.Province) == "" {
		return Result{OK: false, ErrorMessage: "province is required", OriginalValue: value}
	}
	if requireCity && strings.TrimSpace(comp.City) == "" {
		return Result{OK: false, ErrorMessage: "city is required", OriginalValue: value}
	}
	if requireDistrict && strings.TrimSpace(comp.District) == "" {
		return Result{OK: false, ErrorMessage: "district is required", OriginalValue: value}
	}
	if strings.TrimSpace(comp.AddressDetail) == "" {
		return Result{OK: false, ErrorMessage: "address detail is required", OriginalValue: value}
	}

	if validateComponents {
		data, _ := json.Marshal(comp)
		return Result{OK: true, Value: string(data)}
	}
	return Result{OK: true, Value: value}
}
