// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/ganutils/pkg/ml/data/splits"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(plainTableStyle(withHeader))
}

// plainTableStyle styles the header row (lgtable.HeaderRow) and alternates the colors of the data rows,
// which are numbered from 0.
func plainTableStyle(withHeader bool) lgtable.StyleFunc {
	return func(row, col int) (s lipgloss.Style) {
		if withHeader && row == lgtable.HeaderRow {
			s = headerRowStyle
			return
		}
		switch {
		case row%2 == 0:
			s = oddRowStyle
		default:
			s = evenRowStyle
		}
		if col == 0 {
			s = s.Align(lipgloss.Left)
		} else {
			s = s.Align(lipgloss.Right)
		}
		return
	}
}

// splitsTable lists the number of images per split. If skipped is nil, that column is omitted.
func splitsTable(linked, skipped []int) *lgtable.Table {
	table := newPlainTable(true)
	if skipped == nil {
		table.Headers("Split", "# images")
	} else {
		table.Headers("Split", "# linked", "# missing")
	}
	var total, totalSkipped int
	for ii, split := range splits.AllSplits {
		total += linked[ii]
		if skipped == nil {
			table.Row(split.String(), humanize.Comma(int64(linked[ii])))
			continue
		}
		totalSkipped += skipped[ii]
		table.Row(split.String(), humanize.Comma(int64(linked[ii])), humanize.Comma(int64(skipped[ii])))
	}
	if skipped == nil {
		table.Row("total", humanize.Comma(int64(total)))
	} else {
		table.Row("total", humanize.Comma(int64(total)), humanize.Comma(int64(totalSkipped)))
	}
	return table
}
