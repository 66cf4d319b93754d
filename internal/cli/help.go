package cli

import (
	"fmt"
	"io"
)

func PrintExtendedHelp(w io.Writer) {
	fmt.Fprint(w, `medtrack - medication tracking and dose reminders

Usage:
  medtrack [--config <file>] [--data <dir>] <command> [args]

Commands:
  medicine     Manage the medicine catalog (add, list, show, update, delete, search, take)
  schedule     Daily doses (create, today, upcoming, list, take, skip, sweep)
  adherence    Adherence over the last N days
  stats        Today's catalog statistics
  history      Recent actions, newest first
  scan         Parse prescription text into medicines
  export       Dump all data as JSON or YAML
  clear        Delete all data
  report       Rendered summary of adherence, today's doses and medicines
  config       Show effective configuration
  serve        Run the reminder daemon (sweeps, notifications, health endpoint)
  version      Print the version
  help         Show this help

Run 'medtrack <command>' without arguments for command help.
`)
}

func PrintMedicineHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: medtrack medicine <subcommand>

Subcommands:
  add --name <n> --dosage <d> [flags]   Add a medicine; schedules today's doses
  list                                   List medicines
  show <id>                              Show one medicine
  update <id> [flags]                    Change fields of a medicine
  delete <id>                            Delete a medicine
  search <query>                         Match name, instructions or category
  take <id> <index> [--undo]             Tick (or untick) one time slot

Flags:
  --times 08:00,20:00     Dose times (HH:MM)
  --frequency <text>      e.g. "twice daily"
  --duration <text>       e.g. "7 days"
  --instructions <text>
  --category <c>          prescription, otc, supplement, vitamin
  --side-effects a,b
  --color <hex>
  --stock <n>             Units on hand
  --refill                Remind before stock runs out
  --doctor <name>
  --appointment "YYYY-MM-DD HH:MM"   Doctor visit; the daemon reminds the evening before
  --manufacturer <name>
  --expiry <YYYY-MM-DD>
  --notes <text>
  --reminders true|false  (update) enable or disable reminders
  --no-reminder           (add) do not enable reminders
  --no-schedule           (add) do not create today's doses
`)
}

func PrintScheduleHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: medtrack schedule <subcommand>

Subcommands:
  create <medicine-id> [--times 08:00,20:00]   Create today's doses with reminders
  today                                         Today's doses
  upcoming [--hours <n>]                        Pending doses due soon
  list [--date YYYY-MM-DD]                      Every dose record
  take <schedule-id>                            Mark a dose taken
  skip <schedule-id>                            Mark a dose skipped
  sweep                                         Mark overdue pending doses as missed
`)
}

func PrintScanHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: medtrack scan <file|-> [--add] [--image <uri>]

Reads recognized prescription text, one medicine per line, and stores the
result. With --add the recognized medicines are added to the catalog.
`)
}

func PrintConfigHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: medtrack config <subcommand>

Subcommands:
  show          Effective configuration (secrets masked)
  get <key>     One value, e.g. tracker.missed_threshold_minutes
  path          Config file in use
  status        Notification and storage status
`)
}
