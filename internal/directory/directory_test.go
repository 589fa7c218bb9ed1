package directory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/procure-cli/internal/store"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "suppliers.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseRows_Aliases(t *testing.T) {
	header := []string{"Company", "email", "Trades", "City", "State", "Latitude", "Longitude", "Rating", "Tax Debt"}
	rows := [][]string{
		{"Volt SARL", "", "electrical; hvac", "Lyon", "ARA", "45,76", "4.83", "4.5", "yes"},
	}

	sups, errs := ParseRows(header, rows)
	require.Empty(t, errs)
	require.Len(t, sups, 1)

	s := sups[0]
	assert.Equal(t, "Volt SARL", s.CompanyName)
	assert.Equal(t, []string{"ELECTRICAL", "HVAC"}, s.Categories)
	assert.Equal(t, "Lyon", s.Location.City)
	assert.Equal(t, "ARA", s.Location.Region)
	require.NotNil(t, s.Location.Lat)
	assert.InDelta(t, 45.76, *s.Location.Lat, 1e-9)
	require.NotNil(t, s.Rating)
	assert.InDelta(t, 4.5, *s.Rating, 1e-9)
	assert.True(t, s.HasTaxDebt)
	assert.False(t, s.Verified)
}

func TestParseRows_RejectsAndSkips(t *testing.T) {
	header := []string{"name", "email", "categories", "rating"}
	rows := [][]string{
		{"Good Co", "a@b.fr", "PLUMBING", ""},
		{"", "", "", ""},
		{"", "x@y.fr", "PLUMBING", ""},
		{"Bad Mail", "nope", "PLUMBING", ""},
		{"Bad Trade", "", "SPACEFLIGHT", ""},
		{"Bad Rating", "", "PLUMBING", "high"},
	}

	sups, errs := ParseRows(header, rows)
	require.Len(t, sups, 1)
	assert.Equal(t, "Good Co", sups[0].CompanyName)

	require.Len(t, errs, 4)
	assert.Equal(t, 4, errs[0].Row)
	assert.Contains(t, errs[0].Reason, "company_name")
	assert.Equal(t, 5, errs[1].Row)
	assert.Contains(t, errs[1].Reason, "contact_email")
	assert.Equal(t, 6, errs[2].Row)
	assert.Contains(t, errs[2].Reason, "unknown category")
	assert.Equal(t, 7, errs[3].Row)
	assert.Contains(t, errs[3].Error(), "row 7")
}

func TestReadXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Suppliers": {
			{"company_name", "categories", "city"},
			{"Alpha", "CONCRETE", "Paris"},
			{"Beta", "MASONRY|CONCRETE", "Lille"},
		},
	})

	sups, rejected, err := ReadXLSX(path, "")
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, sups, 2)
	assert.Equal(t, []string{"MASONRY", "CONCRETE"}, sups[1].Categories)

	_, _, err = ReadXLSX(path, "Missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadCSV(t *testing.T) {
	in := "company_name,categories,service_radius_km,verified\nGamma,ROOFING,50,true\nDelta,ROOFING,,no\n"
	sups, rejected, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	assert.Empty(t, rejected)
	require.Len(t, sups, 2)
	assert.InDelta(t, 50.0, sups[0].ServiceRadiusKM, 1e-9)
	assert.True(t, sups[0].Verified)
	assert.False(t, sups[1].Verified)
}

func TestReadYAML(t *testing.T) {
	in := `
suppliers:
  - company_name: Epsilon
    categories: [hvac]
    location:
      city: Nantes
  - company_name: Zeta
    categories: [TELEPORTATION]
`
	sups, rejected, err := ReadYAML(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, sups, 1)
	assert.Equal(t, []string{"HVAC"}, sups[0].Categories)
	assert.Equal(t, "Nantes", sups[0].Location.City)
	require.Len(t, rejected, 1)
	assert.Equal(t, 2, rejected[0].Row)
}

func TestReadFile_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "suppliers.txt", "hello")
	_, _, err := ReadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestImporter_ImportFile(t *testing.T) {
	var b strings.Builder
	b.WriteString("company_name,categories,city\n")
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		b.WriteString(name + " Plumbing,PLUMBING,Rennes\n")
	}
	b.WriteString("Broken,UNKNOWN,Rennes\n")
	path := writeFile(t, "suppliers.csv", b.String())

	dir := store.NewMemory()
	im := NewImporter(dir, 2, 2)

	res, err := im.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Imported)
	assert.Equal(t, "suppliers.csv", res.File)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 7, res.Rejected[0].Row)

	found, err := dir.FindByCategory(context.Background(), "PLUMBING")
	require.NoError(t, err)
	assert.Len(t, found, 5)
	for _, s := range found {
		assert.NotEmpty(t, s.ID)
	}
}

func TestImporter_EmptyInput(t *testing.T) {
	im := NewImporter(store.NewMemory(), 0, 0)
	n, err := im.Import(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
