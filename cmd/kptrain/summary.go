// SPDX-License-Identifier: CC-BY-NC-SA-4.0
// Copyright (c) 2025-2026 fumi-engineer

package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	brand  = lipgloss.AdaptiveColor{Light: "26", Dark: "81"}
	subtle = lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	border = lipgloss.AdaptiveColor{Light: "250", Dark: "238"}

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(brand)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(border).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(subtle).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// renderSummary draws the end-of-run panel.
func renderSummary(s summary) string {
	outcome := okStyle.Render(s.State.Phase.String())
	if s.State.EarlyStopped {
		outcome = warnStyle.Render(s.State.Phase.String())
	}
	best := "none"
	if !math.IsInf(s.State.BestLoss, 1) {
		best = fmt.Sprintf("%.4f", s.State.BestLoss)
	}
	rows := [][2]string{
		{"outcome", outcome},
		{"epochs", fmt.Sprintf("%d", s.State.Epoch)},
		{"batches", fmt.Sprintf("%d", s.State.TotalBatch)},
		{"best loss", best},
		{"checkpoints", fmt.Sprintf("%d", len(s.State.Checkpoints))},
		{"anomalies", fmt.Sprintf("%d", s.State.Anomalies)},
		{"parameters", fmt.Sprintf("%d", s.Params)},
		{"elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	if s.Best != nil {
		rows = append(rows, [2]string{"best model", s.Best.Name})
	}
	rows = append(rows, [2]string{"model path", s.ModelPath})

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), r[1]))
	}
	return panelStyle.Render(titleStyle.Render(s.Exp) + "\n" + strings.Join(lines, "\n"))
}
