// Package ui renders command output for a terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	blue   = lipgloss.Color("#3b82f6")
	green  = lipgloss.Color("#22c55e")
	red    = lipgloss.Color("#ef4444")
	yellow = lipgloss.Color("#eab308")
	dim    = lipgloss.Color("#6b7280")
	faint  = lipgloss.Color("238")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true)
	SectionStyle = lipgloss.NewStyle().Bold(true).Foreground(blue).MarginTop(1)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	LabelStyle   = lipgloss.NewStyle().Foreground(dim)
)

// Status marks.
const (
	OKMark      = "[OK]"
	FailMark    = "[!!]"
	WarnMark    = "[??]"
	SkipMark    = "[--]"
	PendingMark = "[  ]"
)

func Title(s string) string   { return TitleStyle.Render(s) }
func Section(s string) string { return SectionStyle.Render(s) }
func Muted(s string) string   { return MutedStyle.Render(s) }
func Success(s string) string { return SuccessStyle.Render(s) }
func Warn(s string) string    { return WarnStyle.Render(s) }
func Error(s string) string   { return ErrorStyle.Render(s) }

// Bool renders v as a colored yes or no.
func Bool(v bool) string {
	if v {
		return SuccessStyle.Render("yes")
	}
	return ErrorStyle.Render("no")
}

// Mark renders a status mark for outcome: ok, warning, failed or skipped.
func Mark(outcome string) string {
	switch outcome {
	case "ok":
		return SuccessStyle.Render(OKMark)
	case "warning":
		return WarnStyle.Render(WarnMark)
	case "failed":
		return ErrorStyle.Render(FailMark)
	case "skipped":
		return MutedStyle.Render(SkipMark)
	default:
		return MutedStyle.Render(PendingMark)
	}
}

// Pair holds a key-value pair for KeyValues output.
type Pair struct {
	key   string
	value string
}

// KV creates a key-value pair.
func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines with a trailing newline.
func KeyValues(indent string, pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.key) > maxLen {
			maxLen = len(p.key)
		}
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + LabelStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders a table with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(blue).
		Bold(true).
		Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

// List renders items as an indented bullet list, or "none".
func List(indent string, items []string) string {
	if len(items) == 0 {
		return indent + Muted("none") + "\n"
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(indent + "- " + item + "\n")
	}
	return sb.String()
}
