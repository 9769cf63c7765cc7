// Package report renders the daily activity workbook: completion history
// plus per-key and per-agent usage against the daily allowance.
package report

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"transcriptor-pro/internal/types"
)

// Input collects the data for one workbook.
type Input struct {
	Date       string
	History    []types.HistoryRecord
	KeyUsage   map[string]float64
	AgentUsage map[string]float64
}

// Build assembles the workbook. The caller owns closing the file.
func Build(in Input) (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetSheetName("Sheet1", "Historial")
	setRow(f, "Historial", 1, "Agente", "Archivo", "Duración (s)", "Fecha")
	row := 2
	for _, rec := range in.History {
		setRow(f, "Historial", row,
			rec.Agent,
			rec.Filename,
			fmt.Sprintf("%.1f", rec.Duration),
			rec.Timestamp.Format("2006-01-02 15:04:05"),
		)
		row++
	}

	if _, err := f.NewSheet("Uso Llaves"); err != nil {
		return nil, err
	}
	setRow(f, "Uso Llaves", 1, "Llave", "Segundos", "% Cupo")
	row = 2
	for _, key := range sortedIDs(in.KeyUsage) {
		seconds := in.KeyUsage[key]
		setRow(f, "Uso Llaves", row,
			mask(key),
			fmt.Sprintf("%.1f", seconds),
			fmt.Sprintf("%.1f%%", seconds/types.DailyAllowanceSeconds*100),
		)
		row++
	}

	if _, err := f.NewSheet("Uso Agentes"); err != nil {
		return nil, err
	}
	setRow(f, "Uso Agentes", 1, "Agente", "Segundos")
	row = 2
	for _, agent := range sortedIDs(in.AgentUsage) {
		setRow(f, "Uso Agentes", row, agent, fmt.Sprintf("%.1f", in.AgentUsage[agent]))
		row++
	}

	return f, nil
}

func sortedIDs(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func setRow(f *excelize.File, sheet string, row int, values ...string) {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			continue
		}
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// mask hides the bulk of a credential, keeping enough to correlate with the
// key list.
func mask(key string) string {
	if len(key) <= 10 {
		return key
	}
	return key[:4] + "…" + key[len(key)-6:]
}
