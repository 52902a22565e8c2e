package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/fclairamb/yachtsync/internal/jobstate"
	"github.com/fclairamb/yachtsync/internal/store"
	"github.com/fclairamb/yachtsync/internal/sync"
	"github.com/fclairamb/yachtsync/internal/upsert"
	"github.com/fclairamb/yachtsync/internal/version"
)

const (
	// Time duration constants for relative time formatting.
	hoursPerDay  = 24
	daysPerWeek  = 7
	daysPerMonth = 30
)

// displayMessage prints a single line.
//
//nolint:forbidigo // CLI user output function
func displayMessage(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// displayResult prints the outcome of a run.
//
//nolint:forbidigo // CLI user output function
func displayResult(res *sync.Result) {
	fmt.Printf("\n%s run: %s\n", res.Job, res.Outcome)
	if res.Err != nil {
		fmt.Printf("  Reason: %v\n", res.Err)
	}

	p := res.Progress
	if p == nil {
		return
	}
	fmt.Printf("  Attempted: %d/%d (%.2f%%)\n", p.Attempted, p.Total, p.Percent)
	fmt.Printf("  Processed: %d\n", p.Processed)
	fmt.Printf("  Failed:    %d\n", p.Failed)
	if res.Job == jobstate.KindDailySync {
		fmt.Printf("  Removed: %d, new: %d, price updates: %d, days on market updates: %d\n",
			p.Removed, p.New, p.PriceUpdates, p.DOMUpdates)
	} else if p.TotalFromSource > 0 {
		fmt.Printf("  Active at source: %d (%d already in the catalog)\n", p.TotalFromSource, p.AlreadyPresent)
	}

	switch res.Outcome {
	case sync.OutcomeInterrupted:
		fmt.Printf("\nRun '%s --resume' (or let the server resume it) to continue.\n", commandName(res.Job))
	case sync.OutcomeStopped:
		fmt.Println("\nStopped on request. Run the job again to start over.")
	}
}

// commandName returns the subcommand that runs kind.
func commandName(kind jobstate.Kind) string {
	if kind == jobstate.KindDailySync {
		return "daily-sync"
	}
	return "import"
}

// displayImportOutcome prints what a single import did.
//
//nolint:forbidigo // CLI user output function
func displayImportOutcome(lookupKey int64, outcome *upsert.Outcome) {
	switch {
	case outcome.Created:
		fmt.Printf("%d: created %s\n", lookupKey, outcome.StoredID)
	case outcome.Changed:
		fmt.Printf("%d: updated %s\n", lookupKey, outcome.StoredID)
	default:
		fmt.Printf("%d: %s already up to date\n", lookupKey, outcome.StoredID)
	}
}

// displayStatus prints a job state snapshot.
func displayStatus(w io.Writer, snap *jobstate.Snapshot) {
	fmt.Fprintf(w, "Job: %s\n", snap.Job)

	switch {
	case snap.Running:
		fmt.Fprintf(w, "  Lock:    held by %s (since %s, last seen %s)\n",
			snap.Lock.Owner, snap.Lock.AcquiredAt.Format(time.RFC3339), formatTimeSince(snap.Lock.LastSeen()))
	case snap.Lock != nil:
		fmt.Fprintf(w, "  Lock:    stale, held by %s (last seen %s)\n", snap.Lock.Owner, formatTimeSince(snap.Lock.LastSeen()))
	default:
		fmt.Fprintln(w, "  Lock:    free")
	}

	fmt.Fprintf(w, "  Stop:    %t\n", snap.StopRequested)
	if snap.Status != "" {
		fmt.Fprintf(w, "  Status:  %s\n", snap.Status)
	}
	if p := snap.Progress; p != nil {
		fmt.Fprintf(w, "  Progress: %d/%d attempted, %d processed, %d failed, %d pending (%.2f%%), updated %s\n",
			p.Attempted, p.Total, p.Processed, p.Failed, p.Pending, p.Percent, formatTimeSince(p.Timestamp))
	}
	if ar := snap.AutoResume; ar != nil {
		fmt.Fprintf(w, "  Resume:  pending since %s (%s, last id %d)\n", formatTimeSince(ar.At), ar.Reason, ar.LastID)
	}
	fmt.Fprintln(w)
}

// displayLogs prints activity log entries as a table.
func displayLogs(w io.Writer, entries []jobstate.LogEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No activity recorded.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Timestamp.Format(time.DateTime), e.Level, string(e.Job), e.Message})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Time", "Level", "Job", "Message")
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("render logs: %w", err)
	}
	return table.Render()
}

// displayHistory prints the daily sync history as a table.
func displayHistory(w io.Writer, history []jobstate.HistoryEntry) error {
	if len(history) == 0 {
		fmt.Fprintln(w, "No daily sync recorded.")
		return nil
	}

	rows := make([][]string, 0, len(history))
	for _, h := range history {
		rows = append(rows, []string{
			h.Date,
			strconv.Itoa(h.Removed),
			strconv.Itoa(h.New),
			strconv.Itoa(h.PriceUpdates),
			strconv.Itoa(h.DOMUpdates),
		})
	}

	table := tablewriter.NewWriter(w)
	table.Header("Date", "Removed", "New", "Price updates", "DOM updates")
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("render history: %w", err)
	}
	return table.Render()
}

// displayVersion prints the build metadata.
func displayVersion(w io.Writer) {
	info := version.Info()
	fmt.Fprintf(w, "yachtsync %s (commit %s, built %s)\n", info["version"], info["commit"], info["build_time"])
}

// displayRemoteConfig displays the remote git configuration.
//
//nolint:forbidigo // CLI user output function
func displayRemoteConfig(cfg *store.RemoteConfig) {
	fmt.Println("Remote Git Configuration")
	fmt.Println()

	// Show storage mode
	effectiveMode := cfg.EffectiveStorageMode()
	if cfg.Storage == "" {
		fmt.Printf("Storage:  %s (auto-detected)\n", effectiveMode)
	} else {
		fmt.Printf("Storage:  %s\n", effectiveMode)
	}

	if effectiveMode == store.StorageModeLocal {
		fmt.Println("\nRemote operations disabled (local-only mode)")
		if cfg.URL != "" {
			fmt.Printf("URL:      %s (ignored due to YS_STORAGE=local)\n", cfg.URL)
		}
		return
	}

	if cfg.URL == "" {
		fmt.Println("\nRemote: not configured (set YS_GIT_URL to enable)")
		return
	}

	fmt.Printf("URL:      %s\n", cfg.URL)
	if cfg.IsSSH() {
		fmt.Println("Auth:     SSH (using ssh-agent)")
	} else {
		if cfg.Password != "" {
			fmt.Println("Auth:     HTTPS (token configured)")
		} else {
			fmt.Println("Auth:     HTTPS (WARNING: YS_GIT_PASS not set)")
		}
	}
	fmt.Printf("Branch:   %s\n", cfg.Branch)
	fmt.Printf("User:     %s\n", cfg.User)
	fmt.Printf("Email:    %s\n", cfg.Email)
	fmt.Printf("Commit:   %t (every %s)\n", cfg.IsCommitEnabled(), cfg.GetCommitPeriod())
	fmt.Printf("Push:     %t\n", cfg.IsPushEnabled())

	if dir := os.Getenv("YS_DIR"); dir != "" {
		fmt.Printf("Dir:      %s (from YS_DIR)\n", dir)
	}
}

// displayConnectionTest tests the connection and displays the result.
//
//nolint:forbidigo // CLI user output function
func displayConnectionTest(ctx context.Context, cfg *store.RemoteConfig) error {
	fmt.Printf("Testing connection to %s...\n", cfg.URL)

	if testErr := cfg.TestConnection(ctx); testErr != nil {
		return fmt.Errorf("connection test failed: %w", testErr)
	}

	fmt.Println("Connection successful!")
	return nil
}

// formatTimeSince formats a time duration in a human-readable way.
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < hoursPerDay*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case duration < daysPerWeek*hoursPerDay*time.Hour:
		days := int(duration.Hours() / hoursPerDay)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case duration < daysPerMonth*hoursPerDay*time.Hour:
		weeks := int(duration.Hours() / hoursPerDay / daysPerWeek)
		if weeks == 1 {
			return "1 week ago"
		}
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		months := int(duration.Hours() / hoursPerDay / daysPerMonth)
		if months == 1 {
			return "1 month ago"
		}
		return fmt.Sprintf("%d months ago", months)
	}
}
