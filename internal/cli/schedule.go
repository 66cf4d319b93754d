package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gmsas95/medtrack/internal/tracker"
)

func (c *CLI) HandleScheduleCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		PrintScheduleHelp(c.out)
		return nil
	}

	p := parseArgs(args[1:])

	switch args[0] {
	case "create":
		medicineID := p.arg(0)
		if medicineID == "" {
			return fmt.Errorf("usage: medtrack schedule create <medicine-id> [--times 08:00,20:00]")
		}
		m, err := c.app.Catalog.GetByID(ctx, medicineID)
		if err != nil {
			return err
		}
		times := m.Times
		if override, ok := p.list("times"); ok {
			times = override
		}
		created, err := c.app.Tracker.CreateSchedule(ctx, m.ID, m.Name, m.Dosage, times)
		c.printf("✓ %d dose(s) scheduled for today\n", len(created))
		for _, s := range created {
			c.printf("  %s  %s\n", s.ScheduledTime, c.styles.render(c.styles.dim, s.ID))
		}
		return err

	case "today":
		schedules, err := c.app.Tracker.GetTodaysSchedules(ctx)
		if err != nil {
			return err
		}
		c.printSchedules("Today's doses", schedules)

	case "upcoming", "next":
		hours, err := p.integer("hours", 0)
		if err != nil {
			return err
		}
		schedules, err := c.app.Tracker.GetUpcomingDoses(ctx, time.Duration(hours)*time.Hour)
		if err != nil {
			return err
		}
		c.printSchedules("Upcoming doses", schedules)

	case "list", "all":
		schedules, err := c.app.Tracker.GetAllSchedules(ctx)
		if err != nil {
			return err
		}
		if date, ok := p.str("date"); ok {
			filtered := schedules[:0]
			for _, s := range schedules {
				if s.Date == date {
					filtered = append(filtered, s)
				}
			}
			schedules = filtered
		}
		c.printSchedules("All doses", schedules)

	case "take":
		id := p.arg(0)
		if id == "" {
			return fmt.Errorf("usage: medtrack schedule take <schedule-id>")
		}
		if err := c.app.Tracker.MarkAsTaken(ctx, id); err != nil {
			return err
		}
		c.printf("✓ %s marked as taken\n", id)

	case "skip":
		id := p.arg(0)
		if id == "" {
			return fmt.Errorf("usage: medtrack schedule skip <schedule-id>")
		}
		if err := c.app.Tracker.MarkAsSkipped(ctx, id); err != nil {
			return err
		}
		c.printf("✓ %s marked as skipped\n", id)

	case "sweep", "check":
		missed, err := c.app.Tracker.CheckMissedDoses(ctx)
		if len(missed) == 0 {
			c.println("No newly missed doses")
		} else {
			c.printSchedules("Newly missed doses", missed)
		}
		return err

	default:
		PrintScheduleHelp(c.out)
	}
	return nil
}

func (c *CLI) HandleAdherenceCommand(ctx context.Context, args []string) error {
	p := parseArgs(args)
	days, err := p.integer("days", 0)
	if err != nil {
		return err
	}
	if days <= 0 {
		days = c.app.Config.Tracker.AdherenceDays
	}

	stats, err := c.app.Tracker.GetAdherenceStats(ctx, days)
	if err != nil {
		return err
	}

	c.println(c.styles.heading(fmt.Sprintf("Adherence (last %d days)", days)))
	c.printf("Rate:     %s\n", c.styles.rate(stats.AdherenceRate))
	c.printf("Doses:    %d\n", stats.TotalDoses)
	c.printf("Taken:    %d\n", stats.TakenDoses)
	c.printf("Missed:   %d\n", stats.MissedDoses)
	c.printf("Skipped:  %d\n", stats.SkippedDoses)
	return nil
}

func (c *CLI) printSchedules(title string, schedules []tracker.DoseSchedule) {
	c.println(c.styles.heading(title))
	if len(schedules) == 0 {
		c.println("  (none)")
		return
	}
	for _, s := range schedules {
		c.printf("  %s %s  %-20s %-10s %s  %s\n",
			s.Date, s.ScheduledTime, s.MedicineName, s.Dosage,
			c.styles.status(s.Status), c.styles.render(c.styles.dim, s.ID))
	}
}
