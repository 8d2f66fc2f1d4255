// Package roster reads applicant rosters from XLSX workbooks for bulk
// submission.
package roster

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// Options configures the roster parser.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// headerAliases maps spreadsheet header spellings to canonical columns.
var headerAliases = map[string]string{
	"given name":  "given_name",
	"given_name":  "given_name",
	"first name":  "given_name",
	"first":       "given_name",
	"family name": "family_name",
	"family_name": "family_name",
	"last name":   "family_name",
	"last":        "family_name",
	"school":      "school_name",
	"school name": "school_name",
	"school_name": "school_name",
	"state":       "state_code",
	"state code":  "state_code",
	"state_code":  "state_code",
	"documents":   "documents",
	"document":    "documents",
}

// Read parses a roster workbook into submissions. The first row must be a
// header naming at least the four identity columns; a documents column, if
// present, holds document text separated by a blank line.
func Read(path string, opts Options) ([]model.Submission, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) < 2 {
		return nil, eris.New("roster: sheet has no data rows")
	}

	cols, err := mapHeader(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}

	var subs []model.Submission
	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		if blankRow(cells) {
			continue
		}
		sub := model.Submission{
			GivenName:  cellAt(cells, cols["given_name"]),
			FamilyName: cellAt(cells, cols["family_name"]),
			SchoolName: cellAt(cells, cols["school_name"]),
			StateCode:  cellAt(cells, cols["state_code"]),
		}
		if sub.GivenName == "" || sub.FamilyName == "" || sub.SchoolName == "" || sub.StateCode == "" {
			return nil, eris.Errorf("roster: row %d is missing identity columns", i+2)
		}
		if idx, ok := cols["documents"]; ok {
			if doc := cellAt(cells, idx); doc != "" {
				for _, part := range strings.Split(doc, "\n\n") {
					if part = strings.TrimSpace(part); part != "" {
						sub.Documents = append(sub.Documents, part)
					}
				}
			}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := headerAliases[key]; ok {
			cols[canonical] = i
		}
	}
	for _, required := range []string{"given_name", "family_name", "school_name", "state_code"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("roster: header is missing %s column", required)
		}
	}
	return cols, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("roster: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("roster: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = strings.TrimSpace(c.String())
	}
	return cells
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
