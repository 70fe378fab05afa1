// Package export writes finished reports to spreadsheet files.
package export

import (
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/market-study-cli/internal/model"
)

// Sheet names of an exported report.
const (
	SheetSections        = "Sections"
	SheetHistory         = "Parcours"
	SheetRecommendations = "Experts"
	SheetMission         = "Mission"
)

var (
	sectionHeader        = []string{"ID", "Titre", "Source", "Score de confiance", "Contenu"}
	historyHeader        = []string{"Section", "Étape", "Source", "Statut", "Score", "Données chiffrées"}
	recommendationHeader = []string{"Section", "Titre", "Recommandation"}
)

// BuildXLSX lays a report out as a workbook: one sheet for the mission, the
// sections, their source trails and the expert recommendations.
func BuildXLSX(r *model.Report) (*xlsx.File, error) {
	if r == nil {
		return nil, eris.New("xlsx: nil report")
	}
	f := xlsx.NewFile()

	mission, err := f.AddSheet(SheetMission)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add mission sheet")
	}
	addStrings(mission, "Conversation", r.ConversationID)
	addStrings(mission, "Marché", r.Mission.MarketName)
	addStrings(mission, "Géographie", r.Mission.Geography)
	addStrings(mission, "Type de mission", r.Mission.MissionType)
	addStrings(mission, "Site client", r.Mission.ClientWebsite)
	if !r.StartedAt.IsZero() {
		addStrings(mission, "Début", r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if !r.CompletedAt.IsZero() {
		addStrings(mission, "Fin", r.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	sections, err := f.AddSheet(SheetSections)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add sections sheet")
	}
	addStrings(sections, sectionHeader...)

	history, err := f.AddSheet(SheetHistory)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add history sheet")
	}
	addStrings(history, historyHeader...)

	for _, s := range r.Sections {
		row := sections.AddRow()
		row.AddCell().SetString(s.ID)
		row.AddCell().SetString(s.Title)
		row.AddCell().SetString(string(s.Source))
		row.AddCell().SetFloat(s.ConfidenceScore)
		row.AddCell().SetString(s.Content)

		for _, a := range s.SourceHistory {
			hr := history.AddRow()
			hr.AddCell().SetString(s.ID)
			hr.AddCell().SetInt(a.Step)
			hr.AddCell().SetString(string(a.Source))
			hr.AddCell().SetString(string(a.Status))
			if a.Score != nil {
				hr.AddCell().SetFloat(*a.Score)
			} else {
				hr.AddCell().SetString("")
			}
			if a.HasNumbers != nil {
				hr.AddCell().SetString(strconv.FormatBool(*a.HasNumbers))
			} else {
				hr.AddCell().SetString("")
			}
		}
	}

	recs, err := f.AddSheet(SheetRecommendations)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add recommendations sheet")
	}
	addStrings(recs, recommendationHeader...)
	for _, rec := range r.ExpertRecommendations {
		addStrings(recs, rec.SectionID, rec.SectionTitle, rec.Recommendation)
	}
	return f, nil
}

// WriteXLSX writes the report workbook to w.
func WriteXLSX(w io.Writer, r *model.Report) error {
	f, err := BuildXLSX(r)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "xlsx: write")
}

// SaveXLSX writes the report workbook to path.
func SaveXLSX(path string, r *model.Report) error {
	f, err := BuildXLSX(r)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

// ReadSheet returns the rows of one sheet of a workbook as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

func addStrings(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
