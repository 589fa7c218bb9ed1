package directory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/procure-cli/internal/model"
)

// RowError is a rejected spreadsheet row. Row is 1-based and counts the header.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %s", e.Row, e.Reason) }

// columns maps accepted header spellings to canonical field names.
var columns = map[string]string{
	"id":                "id",
	"supplier_id":       "id",
	"company_name":      "company_name",
	"company":           "company_name",
	"name":              "company_name",
	"contact_email":     "contact_email",
	"email":             "contact_email",
	"phone":             "phone",
	"website":           "website",
	"categories":        "categories",
	"category":          "categories",
	"trades":            "categories",
	"industry_code":     "industry_code",
	"naics":             "industry_code",
	"nace":              "industry_code",
	"city":              "city",
	"region":            "region",
	"state":             "region",
	"country":           "country",
	"lat":               "lat",
	"latitude":          "lat",
	"lon":               "lon",
	"lng":               "lon",
	"longitude":         "lon",
	"service_areas":     "service_areas",
	"service_radius_km": "service_radius_km",
	"radius_km":         "service_radius_km",
	"rating":            "rating",
	"verified":          "verified",
	"has_tax_debt":      "has_tax_debt",
	"tax_debt":          "has_tax_debt",
	"risk_score":        "risk_score",
}

func headerKey(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), "_")
}

// ParseRows converts a header and data rows into suppliers. Rows that fail
// validation are reported and skipped; blank rows are ignored.
func ParseRows(header []string, rows [][]string) ([]model.Supplier, []RowError) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		if field, ok := columns[headerKey(h)]; ok {
			if _, dup := idx[field]; !dup {
				idx[field] = i
			}
		}
	}

	var (
		out  []model.Supplier
		errs []RowError
	)
	for n, row := range rows {
		rowNum := n + 2
		get := func(field string) string {
			i, ok := idx[field]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if blank(row) {
			continue
		}

		sup, err := parseRow(get)
		if err != nil {
			errs = append(errs, RowError{Row: rowNum, Reason: err.Error()})
			continue
		}
		out = append(out, sup)
	}
	return out, errs
}

func parseRow(get func(string) string) (model.Supplier, error) {
	sup := model.Supplier{
		ID:           get("id"),
		CompanyName:  get("company_name"),
		ContactEmail: get("contact_email"),
		Phone:        get("phone"),
		Website:      get("website"),
		IndustryCode: get("industry_code"),
		Location: model.Location{
			City:    get("city"),
			Region:  get("region"),
			Country: get("country"),
		},
		Categories:   splitList(get("categories")),
		ServiceAreas: splitList(get("service_areas")),
	}
	if sup.CompanyName == "" {
		return sup, eris.New("company_name is required")
	}
	if sup.ContactEmail != "" && !strings.Contains(sup.ContactEmail, "@") {
		return sup, eris.Errorf("invalid contact_email %q", sup.ContactEmail)
	}

	var err error
	if sup.Location.Lat, err = optFloat(get("lat")); err != nil {
		return sup, eris.Wrap(err, "lat")
	}
	if sup.Location.Lon, err = optFloat(get("lon")); err != nil {
		return sup, eris.Wrap(err, "lon")
	}
	if sup.Rating, err = optFloat(get("rating")); err != nil {
		return sup, eris.Wrap(err, "rating")
	}
	if sup.RiskScore, err = optFloat(get("risk_score")); err != nil {
		return sup, eris.Wrap(err, "risk_score")
	}
	if r, err := optFloat(get("service_radius_km")); err != nil {
		return sup, eris.Wrap(err, "service_radius_km")
	} else if r != nil {
		sup.ServiceRadiusKM = *r
	}
	if sup.Verified, err = optBool(get("verified")); err != nil {
		return sup, eris.Wrap(err, "verified")
	}
	if sup.HasTaxDebt, err = optBool(get("has_tax_debt")); err != nil {
		return sup, eris.Wrap(err, "has_tax_debt")
	}
	return sup, Validate(&sup)
}

// Validate normalizes categories and rejects unknown ones.
func Validate(sup *model.Supplier) error {
	if strings.TrimSpace(sup.CompanyName) == "" {
		return eris.New("company_name is required")
	}
	for i, c := range sup.Categories {
		n := model.NormalizeCategory(c)
		if !model.KnownCategory(n) {
			return eris.Errorf("unknown category %q", c)
		}
		sup.Categories[i] = n
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "no", "n", "false":
		return false, nil
	case "1", "yes", "y", "true", "x":
		return true, nil
	}
	return false, eris.Errorf("not a boolean: %q", s)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
