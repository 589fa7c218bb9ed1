package model

import "strings"

// Work categories understood by the directory and the matching engine.
const (
	CategoryElectrical  = "ELECTRICAL"
	CategoryHVAC        = "HVAC"
	CategoryPlumbing    = "PLUMBING"
	CategoryConcrete    = "CONCRETE"
	CategoryMasonry     = "MASONRY"
	CategorySteel       = "STEEL"
	CategoryRoofing     = "ROOFING"
	CategoryInsulation  = "INSULATION"
	CategoryCarpentry   = "CARPENTRY"
	CategoryFlooring    = "FLOORING"
	CategoryDrywall     = "DRYWALL"
	CategoryPainting    = "PAINTING"
	CategoryGlazing     = "GLAZING"
	CategoryEarthworks  = "EARTHWORKS"
	CategoryDemolition  = "DEMOLITION"
	CategoryLandscaping = "LANDSCAPING"
)

// Categories lists every known category.
var Categories = []string{
	CategoryElectrical, CategoryHVAC, CategoryPlumbing, CategoryConcrete,
	CategoryMasonry, CategorySteel, CategoryRoofing, CategoryInsulation,
	CategoryCarpentry, CategoryFlooring, CategoryDrywall, CategoryPainting,
	CategoryGlazing, CategoryEarthworks, CategoryDemolition, CategoryLandscaping,
}

// NormalizeCategory upper-cases a category and joins words with underscores.
func NormalizeCategory(c string) string {
	return strings.Join(strings.Fields(strings.ToUpper(c)), "_")
}

// KnownCategory reports whether c, after normalization, is a known category.
func KnownCategory(c string) bool {
	c = NormalizeCategory(c)
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// industryCodes maps NAICS (6 digit) and NACE (4 digit, dots stripped) code
// prefixes to categories.
var industryCodes = map[string]string{
	"238110": CategoryConcrete,
	"238120": CategorySteel,
	"238130": CategoryCarpentry,
	"238140": CategoryMasonry,
	"238150": CategoryGlazing,
	"238160": CategoryRoofing,
	"238210": CategoryElectrical,
	"238220": CategoryHVAC,
	"238310": CategoryDrywall,
	"238320": CategoryPainting,
	"238330": CategoryFlooring,
	"238350": CategoryCarpentry,
	"238910": CategoryEarthworks,
	"561730": CategoryLandscaping,
	"4311":   CategoryDemolition,
	"4312":   CategoryEarthworks,
	"4321":   CategoryElectrical,
	"4322":   CategoryPlumbing,
	"4329":   CategoryInsulation,
	"4332":   CategoryCarpentry,
	"4333":   CategoryFlooring,
	"4334":   CategoryPainting,
	"4391":   CategoryRoofing,
}

// IndustryCategory maps an industry classification code to a category using
// the longest matching prefix. It returns "" when nothing matches.
func IndustryCategory(code string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, code)
	for n := len(digits); n >= 4; n-- {
		if c, ok := industryCodes[digits[:n]]; ok {
			return c
		}
	}
	return ""
}
