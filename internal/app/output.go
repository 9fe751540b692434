package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/provisioner/internal/domain/environment"
	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	colorError   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}

	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)

	labelCaser = cases.Title(language.English)
)

// PrintValidation prints the install order of a valid plan, one phase at a
// time.
func (p *Provisioner) PrintValidation(pl *plan.Plan) error {
	phases, err := pl.Phases()
	if err != nil {
		return err
	}

	header := titleStyle.Render("Install order")
	if src := pl.Source(); src != "" {
		header += " " + mutedStyle.Render(src)
	}
	p.printf("%s\n", header)
	pos := 1
	for i, phase := range phases {
		p.printf("%s\n", mutedStyle.Render(fmt.Sprintf("phase %d", phase[0].Method.Phase())))
		for _, d := range phase {
			p.printf("  %2d. %s %s\n", pos, d.Name, mutedStyle.Render("("+string(d.Method)+")"))
			pos++
		}
		if i < len(phases)-1 {
			p.printf("\n")
		}
	}
	p.printf("\n%s %d descriptor(s)\n", successStyle.Render("✓ Plan is valid:"), pl.Len())
	return nil
}

// PrintReport prints a run report followed by the failures in detail.
func (p *Provisioner) PrintReport(r *execution.Report) {
	p.printf("%s %s\n\n", titleStyle.Render("Provisioning report"), mutedStyle.Render(r.RunID))

	width := 0
	for _, rec := range r.Records {
		width = max(width, len(rec.Name))
	}

	for _, rec := range r.Records {
		p.printf("  %s %-*s  %s\n", statusIcon(rec), width, rec.Name, statusLabel(rec))
	}

	p.printf("\n%d installed, %d failed", r.Installed, r.Failed)
	if r.Cancelled {
		p.printf(", %s", errorStyle.Render("cancelled"))
	}
	p.printf("\n")

	failures := r.Failures()
	if len(failures) == 0 {
		return
	}
	p.printf("\n%s\n", errorStyle.Render("Failures:"))
	for _, rec := range failures {
		p.printf("\n%s\n", formatFailure(rec))
	}
}

// PrintEnvironment renders env to the output.
func (p *Provisioner) PrintEnvironment(env environment.Environment, format environment.Format) error {
	return environment.Render(p.out, env, format)
}

func statusIcon(rec provision.Record) string {
	switch {
	case rec.Installed():
		return successStyle.Render("✓")
	case rec.Failed():
		return errorStyle.Render("✗")
	}
	return mutedStyle.Render("·")
}

func statusLabel(rec provision.Record) string {
	label := labelCaser.String(string(rec.Status()))
	switch {
	case rec.Reused:
		return label + mutedStyle.Render(" (already present)")
	case rec.Failed():
		return errorStyle.Render(label) + mutedStyle.Render(" "+string(rec.Kind()))
	}
	return label
}

func formatFailure(rec provision.Record) string {
	var e *provision.Error
	if !errors.As(rec.Err, &e) {
		return fmt.Sprintf("  %s: %v", rec.Name, rec.Err)
	}
	return indent(e.Format(), "  ")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func (p *Provisioner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}
