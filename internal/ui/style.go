package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintLogo renders the colored devsync banner to stderr.
func PrintLogo() {
	w := os.Stderr
	frame := color.New(color.FgCyan)
	pulse := color.New(color.FgGreen)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +--------------------------+")
	pulse.Fprintln(w, "   |  ~~^~~~~^~~~~~~^~~~~^~~  |")
	brand.Fprintln(w, "   |    D E V S Y N C         |")
	pulse.Fprintln(w, "   |  ~~^~~~~^~~~~~~^~~~~^~~  |")
	frame.Fprintln(w, "   +--------------------------+")
	tag.Fprintf(w, "   %s Team sync and analytics\n", Dim("📡"))
	fmt.Fprintln(w)
}

// prefixColors is a palette of distinct bold colors for differentiating
// collections in a live feed.
var prefixColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// prefixColorIndex hashes a name to a palette index.
func prefixColorIndex(name string) int {
	var h uint32
	for _, c := range name {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(prefixColors)))
}

// Prefix returns a colored [name] prefix string. The same name always
// gets the same color.
func Prefix(name string) string {
	c := prefixColors[prefixColorIndex(name)]
	return Dim("[") + c(name) + Dim("]")
}

// Severity returns a colored severity label.
func Severity(sev string) string {
	switch sev {
	case "critical":
		return BoldRed("critical")
	case "high":
		return Red("high")
	case "medium":
		return Yellow("medium")
	case "low":
		return Dim("low")
	default:
		return Dim(sev)
	}
}

// StatusIcon returns a colored icon for a task, threat or health status.
func StatusIcon(status string) string {
	switch status {
	case "done", "resolved", "healthy", "ok":
		return Green("✓")
	case "in_progress", "in-progress", "mitigated":
		return Cyan("●")
	case "blocked", "critical", "error":
		return Red("✗")
	case "active", "warning", "review":
		return Yellow("⚠")
	default:
		return Dim("◌")
	}
}

// Health returns a colored overall health label.
func Health(status string) string {
	switch status {
	case "healthy":
		return BoldGreen("healthy")
	case "warning":
		return BoldYellow("warning")
	case "critical":
		return BoldRed("critical")
	default:
		return Dim("unknown")
	}
}
