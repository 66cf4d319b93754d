// Package cli implements the medtrack subcommands on top of an app.App.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/gmsas95/medtrack/internal/app"
	"github.com/gmsas95/medtrack/internal/tracker"
)

// CLI dispatches subcommands and writes human-readable output
type CLI struct {
	app    *app.App
	out    io.Writer
	styles styles
}

// New creates a CLI writing to out. Output is styled only when out is a
// terminal.
func New(application *app.App, out io.Writer) *CLI {
	styled := false
	if f, ok := out.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &CLI{app: application, out: out, styles: newStyles(styled)}
}

// Run executes one command line, args excluding the program name
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		PrintExtendedHelp(c.out)
		return nil
	}

	rest := args[1:]
	switch args[0] {
	case "medicine", "med", "medicines":
		return c.HandleMedicineCommand(ctx, rest)
	case "schedule", "dose", "doses":
		return c.HandleScheduleCommand(ctx, rest)
	case "adherence":
		return c.HandleAdherenceCommand(ctx, rest)
	case "stats":
		return c.HandleStatsCommand(ctx)
	case "history":
		return c.HandleHistoryCommand(ctx, rest)
	case "scan":
		return c.HandleScanCommand(ctx, rest)
	case "export":
		return c.HandleExportCommand(ctx, rest)
	case "clear":
		return c.HandleClearCommand(ctx, rest)
	case "report":
		return c.HandleReportCommand(ctx, rest)
	case "config":
		return c.HandleConfigCommand(rest)
	case "serve", "daemon":
		return c.app.RunDaemon()
	case "version", "--version", "-v":
		fmt.Fprintf(c.out, "medtrack version %s\n", c.app.Version)
		return nil
	case "help", "--help", "-h":
		PrintExtendedHelp(c.out)
		return nil
	default:
		return fmt.Errorf("unknown command %q (run 'medtrack help')", args[0])
	}
}

func (c *CLI) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}

func (c *CLI) println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

// parsedArgs holds positional arguments and --flag values
type parsedArgs struct {
	positional []string
	flags      map[string]string
}

// parseArgs accepts --name value, --name=value and the listed boolean
// flags, which take no value.
func parseArgs(args []string, boolFlags ...string) parsedArgs {
	isBool := make(map[string]bool, len(boolFlags))
	for _, b := range boolFlags {
		isBool[b] = true
	}

	p := parsedArgs{flags: make(map[string]string)}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") || arg == "--" {
			p.positional = append(p.positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(name, "="); ok {
			p.flags[k] = v
			continue
		}
		if isBool[name] {
			p.flags[name] = "true"
			continue
		}
		if i+1 < len(args) {
			p.flags[name] = args[i+1]
			i++
			continue
		}
		p.flags[name] = ""
	}
	return p
}

func (p parsedArgs) has(name string) bool {
	_, ok := p.flags[name]
	return ok
}

func (p parsedArgs) str(name string) (string, bool) {
	v, ok := p.flags[name]
	return v, ok
}

func (p parsedArgs) boolean(name string) bool {
	v, ok := p.flags[name]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (p parsedArgs) integer(name string, def int) (int, error) {
	v, ok := p.flags[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("--%s must be a number: %w", name, err)
	}
	return n, nil
}

func (p parsedArgs) list(name string) ([]string, bool) {
	v, ok := p.flags[name]
	if !ok {
		return nil, false
	}
	return splitList(v), true
}

func (p parsedArgs) arg(i int) string {
	if i < len(p.positional) {
		return p.positional[i]
	}
	return ""
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type styles struct {
	enabled bool
	title   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	bad     lipgloss.Style
	dim     lipgloss.Style
}

func newStyles(enabled bool) styles {
	return styles{
		enabled: enabled,
		title:   lipgloss.NewStyle().Bold(true).Underline(true),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		bad:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s styles) render(st lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return st.Render(text)
}

func (s styles) heading(text string) string {
	if !s.enabled {
		return text + "\n" + strings.Repeat("=", len([]rune(text)))
	}
	return s.title.Render(text)
}

func (s styles) status(st tracker.Status) string {
	label := string(st)
	switch st {
	case tracker.StatusTaken:
		return s.render(s.ok, "✓ "+label)
	case tracker.StatusMissed:
		return s.render(s.bad, "✗ "+label)
	case tracker.StatusSkipped:
		return s.render(s.dim, "- "+label)
	default:
		return s.render(s.warn, "○ "+label)
	}
}

func (s styles) rate(rate int) string {
	text := fmt.Sprintf("%d%%", rate)
	switch {
	case rate >= 80:
		return s.render(s.ok, text)
	case rate >= 50:
		return s.render(s.warn, text)
	default:
		return s.render(s.bad, text)
	}
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}
