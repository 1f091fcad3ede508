package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/okian/mimic/internal/domain/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderResults lays out evaluation scores in selection order and marks the
// best model.
func renderResults(p *model.Pipeline) string {
	best := ""
	if p.BestModel != nil {
		best = *p.BestModel
	}
	rows := make([][]string, 0, len(p.EvaluationResults))
	for i, r := range p.EvaluationResults {
		mark := ""
		if r.ModelName == best {
			mark = "*"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			r.ModelName,
			formatScore(r.ToneScore),
			formatScore(r.StyleScore),
			formatScore(r.PersonalityScore),
			formatScore(r.AverageScore),
			mark,
		})
	}
	return renderTable(
		[]string{"#", "Model", "Tone", "Style", "Personality", "Average", "Best"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderPipelines(list []*model.Pipeline) string {
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		best := "-"
		if p.BestModel != nil {
			best = *p.BestModel
		}
		rows = append(rows, []string{
			p.ID,
			string(p.Status),
			strings.Join(p.SelectedModels, ", "),
			best,
			p.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "Models", "Best", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func formatProgress(p model.Progress) string {
	return fmt.Sprintf("[%3d%%] %-8s %s", p.Progress, p.Step, p.Message)
}
