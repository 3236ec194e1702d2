package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/futdesk/journal"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the audit journal",
	Long: `Query and display fills recorded in the audit journal. The journal type and
location come from the config unless --db or --csv is given.

Subcommands:
  order        - Fill history of one local order id
  outstanding  - Orders that still have open quantity
  today        - Fills recorded today
  day          - Fills recorded on a specific day

Examples:
  futdesk journal order HSI-001
  futdesk journal outstanding --db ./futdesk.sqlite
  futdesk journal day 2025-06-02 --csv ./open_orders.csv`,
}

var journalOrderCmd = &cobra.Command{
	Use:   "order <local-id>",
	Short: "Show the fill history of one order",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalOrder,
}

var journalOutstandingCmd = &cobra.Command{
	Use:   "outstanding",
	Short: "List orders with open quantity",
	Args:  cobra.NoArgs,
	RunE:  runJournalOutstanding,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List fills recorded today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return journalDay(cmd, time.Now().In(time.Local).Format("2006-01-02"))
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List fills recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return journalDay(cmd, args[0])
	},
}

var (
	journalDBPath  string
	journalCSVPath string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrderCmd)
	journalCmd.AddCommand(journalOutstandingCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB")
	journalCmd.PersistentFlags().StringVar(&journalCSVPath, "csv", "", "path to CSV audit log")
	journalCmd.MarkFlagsMutuallyExclusive("db", "csv")
}

// openReader returns the history source and a func to release it.
func openReader() (journal.Reader, func(), error) {
	dbPath, csvPath := journalDBPath, journalCSVPath
	if dbPath == "" && csvPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, nil, err
		}
		if cfg.Journal.Type == "sqlite" {
			dbPath = cfg.Journal.DBPath
		} else {
			csvPath = cfg.Journal.TradesFile
		}
	}

	if dbPath != "" {
		db, err := journal.NewSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	}
	h, err := journal.LoadCSVHistory(csvPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read journal: %w", err)
	}
	return h, func() {}, nil
}

func printFills(w io.Writer, recs []journal.FillRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no fills")
		return
	}
	fmt.Fprintln(w, journal.FormatFillsOrg(recs))
}

func runJournalOrder(cmd *cobra.Command, args []string) error {
	r, done, err := openReader()
	if err != nil {
		return err
	}
	defer done()

	recs, err := r.ListFills(args[0])
	if err != nil {
		return fmt.Errorf("query fills: %w", err)
	}
	printFills(cmd.OutOrStdout(), recs)
	return nil
}

func runJournalOutstanding(cmd *cobra.Command, args []string) error {
	r, done, err := openReader()
	if err != nil {
		return err
	}
	defer done()

	recs, err := r.Outstanding()
	if err != nil {
		return fmt.Errorf("query outstanding: %w", err)
	}
	printFills(cmd.OutOrStdout(), recs)
	return nil
}

func journalDay(cmd *cobra.Command, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	r, done, err := openReader()
	if err != nil {
		return err
	}
	defer done()

	recs, err := r.ListFillsBetween(start, end)
	if err != nil {
		return fmt.Errorf("query fills: %w", err)
	}
	pl, err := r.RealizedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query realized: %w", err)
	}

	out := cmd.OutOrStdout()
	printFills(out, recs)
	fmt.Fprintf(out, "realized %s: %+.2f\n", day, pl)
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
