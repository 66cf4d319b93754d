package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"github.com/gmsas95/medtrack/internal/catalog"
	"github.com/gmsas95/medtrack/internal/tracker"
)

// exportDocument is the catalog export plus the dose ledger
type exportDocument struct {
	catalog.Export `yaml:",inline"`
	Schedules      []tracker.DoseSchedule `json:"schedules" yaml:"schedules"`
}

func (c *CLI) HandleStatsCommand(ctx context.Context) error {
	stats, err := c.app.Catalog.GetStatistics(ctx)
	if err != nil {
		return err
	}

	c.println(c.styles.heading("Today"))
	c.printf("Medicines:       %d\n", stats.TotalMedicines)
	c.printf("Taken today:     %d\n", stats.TakenToday)
	c.printf("Missed today:    %d\n", stats.MissedToday)
	c.printf("Scans:           %d\n", stats.TotalScans)
	c.printf("Adherence today: %s\n", c.styles.rate(stats.AdherenceRate))
	return nil
}

func (c *CLI) HandleHistoryCommand(ctx context.Context, args []string) error {
	p := parseArgs(args)
	limit, err := p.integer("limit", 20)
	if err != nil {
		return err
	}
	medicineID, _ := p.str("medicine")

	entries, err := c.app.Catalog.GetHistory(ctx)
	if err != nil {
		return err
	}

	c.println(c.styles.heading("History"))
	shown := 0
	for _, e := range entries {
		if medicineID != "" && e.MedicineID != medicineID {
			continue
		}
		if limit > 0 && shown >= limit {
			break
		}
		c.printf("  %s  %-8s %s", e.Timestamp.In(c.app.Location).Format("2006-01-02 15:04"), e.Action, e.MedicineID)
		if e.Notes != "" {
			c.printf("  %s", c.styles.render(c.styles.dim, e.Notes))
		}
		c.println()
		shown++
	}
	if shown == 0 {
		c.println("  (empty)")
	}
	return nil
}

func (c *CLI) HandleScanCommand(ctx context.Context, args []string) error {
	p := parseArgs(args, "add")
	source := p.arg(0)
	if source == "" {
		PrintScanHelp(c.out)
		return nil
	}

	var raw []byte
	var err error
	if source == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(source)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", source, err)
	}

	parsed := catalog.NewParser().ParsePrescription(string(raw))

	c.println(c.styles.heading("Recognized medicines"))
	if len(parsed.Medicines) == 0 {
		c.println("  (none)")
	}
	for _, m := range parsed.Medicines {
		c.printf("  %-22s %-10s %-20s %s\n", m.Name, m.Dosage, m.Frequency, strings.Join(m.Times, ", "))
	}
	for _, match := range parsed.Matches {
		if match.Score < 100 {
			c.printf("  read %q as %s (%d%% match)\n", match.Input, match.Name, match.Score)
		}
	}
	c.printf("Confidence: %.0f%% (%d of %d lines)\n", parsed.Confidence*100, len(parsed.Medicines), parsed.Lines)

	imageURI, ok := p.str("image")
	if !ok && source != "-" {
		imageURI = source
	}

	added := 0
	if p.boolean("add") {
		for _, m := range parsed.Medicines {
			m.ReminderEnabled = true
			if _, err := c.app.Catalog.Add(ctx, m); err != nil {
				c.printf("  %s %s: %v\n", c.styles.render(c.styles.warn, "skipped"), m.Name, err)
				continue
			}
			added++
		}
		c.printf("✓ Added %d medicine(s) to the catalog\n", added)
	}

	scan, err := c.app.Catalog.SaveScanResult(ctx, catalog.ScanResult{
		ImageURI:       imageURI,
		RecognizedText: string(raw),
		Medicines:      parsed.Medicines,
		Confidence:     parsed.Confidence,
		Processed:      added > 0,
	})
	if err != nil {
		return err
	}
	c.printf("Scan saved as %s\n", scan.ID)
	return nil
}

func (c *CLI) HandleExportCommand(ctx context.Context, args []string) error {
	p := parseArgs(args)
	format, _ := p.str("format")
	if format == "" {
		format = "json"
	}

	export, err := c.app.Catalog.Export(ctx)
	if err != nil {
		return err
	}
	schedules, err := c.app.Tracker.GetAllSchedules(ctx)
	if err != nil {
		return err
	}
	doc := exportDocument{Export: export, Schedules: schedules}

	var data []byte
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(doc, "", "  ")
		data = append(data, '\n')
	case "yaml", "yml":
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unsupported export format %q (json, yaml)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	if path, ok := p.str("output"); ok && path != "" {
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		c.printf("✓ Exported %d medicine(s) to %s\n", len(export.Medicines), path)
		return nil
	}
	_, err = c.out.Write(data)
	return err
}

func (c *CLI) HandleClearCommand(ctx context.Context, args []string) error {
	p := parseArgs(args, "yes")
	if !p.boolean("yes") {
		c.println("This deletes every medicine, dose, history entry, scan and reminder.")
		c.println("Run again with --yes to confirm.")
		return nil
	}

	if err := c.app.Tracker.ClearAll(ctx); err != nil {
		return err
	}
	if err := c.app.Catalog.ClearAll(ctx); err != nil {
		return err
	}
	if err := c.app.Reminders.CancelAllReminders(ctx); err != nil {
		return err
	}
	c.println("✓ All data cleared")
	return nil
}

func (c *CLI) HandleReportCommand(ctx context.Context, args []string) error {
	p := parseArgs(args, "raw")
	days, err := p.integer("days", c.app.Config.Tracker.AdherenceDays)
	if err != nil {
		return err
	}

	md, err := c.buildReport(ctx, days)
	if err != nil {
		return err
	}
	if p.boolean("raw") {
		_, err = io.WriteString(c.out, md)
		return err
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(80)}
	if c.styles.enabled {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	_, err = io.WriteString(c.out, rendered)
	return err
}

func (c *CLI) buildReport(ctx context.Context, days int) (string, error) {
	stats, err := c.app.Catalog.GetStatistics(ctx)
	if err != nil {
		return "", err
	}
	adherence, err := c.app.Tracker.GetAdherenceStats(ctx, days)
	if err != nil {
		return "", err
	}
	todays, err := c.app.Tracker.GetTodaysSchedules(ctx)
	if err != nil {
		return "", err
	}
	medicines, err := c.app.Catalog.GetAll(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Medication report\n\n")
	fmt.Fprintf(&b, "_Generated %s_\n\n", c.app.Clock.Now().In(c.app.Location).Format("2006-01-02 15:04"))

	fmt.Fprintf(&b, "## Adherence, last %d days\n\n", days)
	fmt.Fprintf(&b, "| Doses | Taken | Missed | Skipped | Rate |\n|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d%% |\n\n",
		adherence.TotalDoses, adherence.TakenDoses, adherence.MissedDoses, adherence.SkippedDoses, adherence.AdherenceRate)

	fmt.Fprintf(&b, "## Today\n\n")
	if len(todays) == 0 {
		fmt.Fprintf(&b, "No doses scheduled today.\n\n")
	} else {
		fmt.Fprintf(&b, "| Time | Medicine | Dosage | Status |\n|---|---|---|---|\n")
		for _, s := range todays {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", s.ScheduledTime, s.MedicineName, s.Dosage, s.Status)
		}
		fmt.Fprintf(&b, "\n")
	}
	fmt.Fprintf(&b, "History today: %d taken, %d missed (%d%% of configured doses).\n\n",
		stats.TakenToday, stats.MissedToday, stats.AdherenceRate)

	fmt.Fprintf(&b, "## Medicines (%d)\n\n", len(medicines))
	for _, m := range medicines {
		fmt.Fprintf(&b, "- **%s** %s", m.Name, m.Dosage)
		if len(m.Times) > 0 {
			fmt.Fprintf(&b, " at %s", strings.Join(m.Times, ", "))
		}
		if m.Instructions != "" {
			fmt.Fprintf(&b, " (%s)", m.Instructions)
		}
		fmt.Fprintf(&b, "\n")
	}
	return b.String(), nil
}

func (c *CLI) HandleConfigCommand(args []string) error {
	if len(args) == 0 {
		PrintConfigHelp(c.out)
		return nil
	}

	cfg := c.app.Config
	switch args[0] {
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: medtrack config get <key>")
		}
		v := cfg.Get(args[1])
		if v == nil {
			return fmt.Errorf("unknown key: %s", args[1])
		}
		if strings.Contains(args[1], "token") {
			v = maskToken(fmt.Sprint(v))
		}
		c.println(v)

	case "path":
		if f := cfg.File(); f != "" {
			c.println(f)
		} else {
			c.println("(no config file, using defaults)")
		}

	case "show", "view":
		settings := cfg.Settings()
		maskSecrets(settings)
		data, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		_, err = c.out.Write(data)
		return err

	case "status":
		c.println(c.styles.heading("Notifications"))
		c.printf("Permission: %s\n", channelStatus(c.app.Scheduler.PermissionGranted()))
		c.printf("Telegram:   %s\n", channelStatus(cfg.Notifications.Telegram.Enabled))
		if cfg.Notifications.Telegram.Enabled {
			c.printf("  Bot Token: %s\n", maskToken(cfg.Notifications.Telegram.BotToken))
		}
		c.printf("Discord:    %s\n", channelStatus(cfg.Notifications.Discord.Enabled))
		if cfg.Notifications.Discord.Enabled {
			c.printf("  Token: %s\n", maskToken(cfg.Notifications.Discord.Token))
		}
		c.printf("Storage:    %s (%s)\n", cfg.Storage.Backend, cfg.Storage.DataDir)

	default:
		PrintConfigHelp(c.out)
	}
	return nil
}

func maskSecrets(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			maskSecrets(val)
		case string:
			if strings.Contains(k, "token") && val != "" {
				m[k] = maskToken(val)
			}
		}
	}
}
