package matching

import "github.com/sells-group/procure-cli/internal/model"

// adjacency lists, per category, the related trades consulted when too few
// exact suppliers qualify. Order is significant: pools are scanned in it.
var adjacency = map[string][]string{
	model.CategoryElectrical:  {model.CategoryHVAC},
	model.CategoryHVAC:        {model.CategoryElectrical, model.CategoryPlumbing, model.CategoryInsulation},
	model.CategoryPlumbing:    {model.CategoryHVAC},
	model.CategoryConcrete:    {model.CategoryMasonry, model.CategoryEarthworks},
	model.CategoryMasonry:     {model.CategoryConcrete},
	model.CategorySteel:       {model.CategoryGlazing},
	model.CategoryRoofing:     {model.CategoryInsulation},
	model.CategoryInsulation:  {model.CategoryHVAC, model.CategoryRoofing, model.CategoryDrywall},
	model.CategoryCarpentry:   {model.CategoryFlooring},
	model.CategoryFlooring:    {model.CategoryCarpentry},
	model.CategoryDrywall:     {model.CategoryPainting, model.CategoryInsulation},
	model.CategoryPainting:    {model.CategoryDrywall},
	model.CategoryGlazing:     {model.CategorySteel},
	model.CategoryEarthworks:  {model.CategoryConcrete, model.CategoryDemolition, model.CategoryLandscaping},
	model.CategoryDemolition:  {model.CategoryEarthworks},
	model.CategoryLandscaping: {model.CategoryEarthworks},
}

// Adjacent returns the categories adjacent to category, in scan order.
func Adjacent(category string) []string {
	return append([]string(nil), adjacency[model.NormalizeCategory(category)]...)
}

// IsAdjacent reports whether a and b are adjacent trades.
func IsAdjacent(a, b string) bool {
	a, b = model.NormalizeCategory(a), model.NormalizeCategory(b)
	for _, c := range adjacency[a] {
		if c == b {
			return true
		}
	}
	return false
}
