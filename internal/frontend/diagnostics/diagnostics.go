// Package diagnostics renders the dry-run compile-line preview and
// compile-error diagnostics for a terminal, the way the teacher's
// pkg/display/styles package styles tree output with lipgloss.
package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwaldrip/crispy/internal/crispyerr"
	"github.com/jwaldrip/crispy/internal/orchestrator"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#A6E3A1"}).
			Bold(true)
	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#89B4FA"})
	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#9399B2"})
	errorTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F38BA8"}).
			Bold(true)
	stderrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#59636E", Dark: "#BAC2DE"})
)

// RenderDryRun formats the SPEC_FULL.md dry-run supplement: the
// resolved compile command, cache path, and hash.
func RenderDryRun(info *orchestrator.DryRunInfo) string {
	var b strings.Builder
	fmt.Fprintln(&b, labelStyle.Render("would compile:"))
	fmt.Fprintln(&b, "  "+commandStyle.Render(info.Command))
	fmt.Fprintln(&b, labelStyle.Render("cache path:")+" "+pathStyle.Render(info.CachePath))
	fmt.Fprintln(&b, labelStyle.Render("hash:")+"       "+pathStyle.Render(info.Hash))
	return b.String()
}

// RenderCompileError formats any crispyerr.Error (not just Compile
// kind; the orchestrator's error path surfaces all nine kinds through
// the same sentinel-exit-code slot) with its kind as the heading, the
// attached message, and any wrapped cause on its own line.
func RenderCompileError(err error) string {
	var b strings.Builder

	var cerr *crispyerr.Error
	if errors.As(err, &cerr) {
		fmt.Fprintln(&b, errorTitleStyle.Render(cerr.Kind.String()+" failed"))
		fmt.Fprintln(&b, labelStyle.Render("message:")+" "+commandStyle.Render(cerr.Message))
		if cerr.Cause != nil {
			fmt.Fprintln(&b, stderrStyle.Render(cerr.Cause.Error()))
		}
	} else {
		fmt.Fprintln(&b, errorTitleStyle.Render("failed"))
		fmt.Fprintln(&b, stderrStyle.Render(err.Error()))
	}
	return b.String()
}
