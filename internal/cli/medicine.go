package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gmsas95/medtrack/internal/catalog"
)

var medicineBoolFlags = []string{"refill", "no-reminder", "no-schedule", "undo"}

func (c *CLI) HandleMedicineCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		PrintMedicineHelp(c.out)
		return nil
	}

	p := parseArgs(args[1:], medicineBoolFlags...)

	switch args[0] {
	case "add":
		return c.addMedicine(ctx, p)

	case "list", "ls":
		medicines, err := c.app.Catalog.GetAll(ctx)
		if err != nil {
			return err
		}
		if len(medicines) == 0 {
			c.println("No medicines yet. Add one with: medtrack medicine add --name <name> --dosage <dosage>")
			return nil
		}
		c.printMedicines(medicines)

	case "show", "get":
		id := p.arg(0)
		if id == "" {
			return fmt.Errorf("usage: medtrack medicine show <id>")
		}
		m, err := c.app.Catalog.GetByID(ctx, id)
		if err != nil {
			return err
		}
		c.printMedicine(*m)

	case "update", "edit":
		id := p.arg(0)
		if id == "" {
			return fmt.Errorf("usage: medtrack medicine update <id> [flags]")
		}
		u, err := updateFromFlags(p)
		if err != nil {
			return err
		}
		m, err := c.app.Catalog.Update(ctx, id, u)
		if err != nil {
			return err
		}
		c.printf("✓ Updated %s (%s)\n", m.Name, m.ID)

	case "delete", "rm":
		id := p.arg(0)
		if id == "" {
			return fmt.Errorf("usage: medtrack medicine delete <id>")
		}
		deleted, err := c.app.Catalog.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			c.printf("Medicine %s not found\n", id)
			return nil
		}
		c.printf("✓ Deleted %s\n", id)

	case "search", "find":
		query := strings.Join(p.positional, " ")
		medicines, err := c.app.Catalog.Search(ctx, query)
		if err != nil {
			return err
		}
		if len(medicines) == 0 {
			c.printf("No medicines match %q\n", query)
			return nil
		}
		c.printMedicines(medicines)

	case "take":
		id, rawIdx := p.arg(0), p.arg(1)
		if id == "" || rawIdx == "" {
			return fmt.Errorf("usage: medtrack medicine take <id> <time-index> [--undo]")
		}
		idx, err := strconv.Atoi(rawIdx)
		if err != nil {
			return fmt.Errorf("time index must be a number: %w", err)
		}
		ok, err := c.app.Catalog.MarkMedicineAsTaken(ctx, id, idx, !p.boolean("undo"))
		if err != nil {
			return err
		}
		if !ok {
			c.printf("Medicine %s not found\n", id)
			return nil
		}
		if p.boolean("undo") {
			c.printf("✓ Marked slot %d of %s as not taken\n", idx, id)
		} else {
			c.printf("✓ Marked slot %d of %s as taken\n", idx, id)
		}

	default:
		PrintMedicineHelp(c.out)
	}
	return nil
}

func (c *CLI) addMedicine(ctx context.Context, p parsedArgs) error {
	m := catalog.Medicine{ReminderEnabled: !p.boolean("no-reminder")}
	m.Name, _ = p.str("name")
	m.Dosage, _ = p.str("dosage")
	if m.Name == "" || m.Dosage == "" {
		return fmt.Errorf("usage: medtrack medicine add --name <name> --dosage <dosage> [--times 08:00,20:00]")
	}

	u, err := updateFromFlags(p)
	if err != nil {
		return err
	}
	applyUpdate(&m, u)

	added, err := c.app.Catalog.Add(ctx, m)
	if err != nil {
		return err
	}
	c.printf("✓ Added %s %s (%s)\n", added.Name, added.Dosage, added.ID)

	if !added.ReminderEnabled || len(added.Times) == 0 || p.boolean("no-schedule") {
		return nil
	}
	created, err := c.app.Tracker.CreateSchedule(ctx, added.ID, added.Name, added.Dosage, added.Times)
	c.printf("  %d dose(s) scheduled for today\n", len(created))
	if err != nil {
		c.printf("  %s %v\n", c.styles.render(c.styles.warn, "warning:"), err)
	}
	return nil
}

// updateFromFlags collects only the flags that were given
func updateFromFlags(p parsedArgs) (catalog.Update, error) {
	var u catalog.Update

	strFields := map[string]**string{
		"name":         &u.Name,
		"dosage":       &u.Dosage,
		"frequency":    &u.Frequency,
		"duration":     &u.Duration,
		"instructions": &u.Instructions,
		"color":        &u.Color,
		"manufacturer": &u.Manufacturer,
		"expiry":       &u.ExpiryDate,
		"doctor":       &u.DoctorName,
		"appointment":  &u.Appointment,
		"notes":        &u.Notes,
	}
	for flag, field := range strFields {
		if v, ok := p.str(flag); ok {
			*field = &v
		}
	}

	if times, ok := p.list("times"); ok {
		u.Times = times
	}
	if effects, ok := p.list("side-effects"); ok {
		u.SideEffects = effects
	}
	if v, ok := p.str("category"); ok {
		cat := catalog.Category(strings.ToLower(v))
		u.Category = &cat
	}
	if p.has("stock") {
		n, err := p.integer("stock", 0)
		if err != nil {
			return u, err
		}
		u.StockQuantity = &n
	}
	if p.has("refill") {
		v := p.boolean("refill")
		u.RefillReminder = &v
	}
	if v, ok := p.str("reminders"); ok {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return u, fmt.Errorf("--reminders must be true or false")
		}
		u.ReminderEnabled = &on
	}
	return u, nil
}

// applyUpdate copies the set fields of u onto a medicine that is not yet
// stored
func applyUpdate(m *catalog.Medicine, u catalog.Update) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&m.Frequency, u.Frequency)
	set(&m.Duration, u.Duration)
	set(&m.Instructions, u.Instructions)
	set(&m.Color, u.Color)
	set(&m.Manufacturer, u.Manufacturer)
	set(&m.ExpiryDate, u.ExpiryDate)
	set(&m.DoctorName, u.DoctorName)
	set(&m.Appointment, u.Appointment)
	set(&m.Notes, u.Notes)
	if u.Times != nil {
		m.Times = u.Times
	}
	if u.SideEffects != nil {
		m.SideEffects = u.SideEffects
	}
	if u.Category != nil {
		m.Category = *u.Category
	}
	if u.StockQuantity != nil {
		m.StockQuantity = u.StockQuantity
	}
	if u.RefillReminder != nil {
		m.RefillReminder = *u.RefillReminder
	}
	if u.ReminderEnabled != nil {
		m.ReminderEnabled = *u.ReminderEnabled
	}
}

func (c *CLI) printMedicines(medicines []catalog.Medicine) {
	c.println(c.styles.heading("Medicines"))
	for _, m := range medicines {
		times := "-"
		if len(m.Times) > 0 {
			times = strings.Join(m.Times, ", ")
		}
		c.printf("  %-22s %-12s %-10s %s  %s\n",
			m.Name, m.Dosage, m.Category, times, c.styles.render(c.styles.dim, m.ID))
	}
}

func (c *CLI) printMedicine(m catalog.Medicine) {
	c.println(c.styles.heading(m.Name))
	c.printf("ID:           %s\n", m.ID)
	c.printf("Dosage:       %s\n", m.Dosage)
	c.printf("Category:     %s\n", m.Category)
	if m.Frequency != "" {
		c.printf("Frequency:    %s\n", m.Frequency)
	}
	if m.Duration != "" {
		c.printf("Duration:     %s\n", m.Duration)
	}
	if m.Instructions != "" {
		c.printf("Instructions: %s\n", m.Instructions)
	}
	if len(m.SideEffects) > 0 {
		c.printf("Side effects: %s\n", strings.Join(m.SideEffects, ", "))
	}
	c.printf("Reminders:    %s\n", channelStatus(m.ReminderEnabled))
	for i, t := range m.Times {
		mark := "○"
		if i < len(m.Taken) && m.Taken[i] {
			mark = c.styles.render(c.styles.ok, "✓")
		}
		c.printf("  [%d] %s %s\n", i, t, mark)
	}
	if m.StockQuantity != nil {
		c.printf("Stock:        %d\n", *m.StockQuantity)
	}
	if m.DoctorName != "" {
		c.printf("Doctor:       %s\n", m.DoctorName)
	}
	if m.Appointment != "" {
		c.printf("Appointment:  %s\n", m.Appointment)
	}
	if m.Notes != "" {
		c.printf("Notes:        %s\n", m.Notes)
	}
	c.printf("Updated:      %s\n", m.UpdatedAt.Format("2006-01-02 15:04"))
}
