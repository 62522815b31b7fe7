package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"screentrail/internal/ipc"
	"screentrail/internal/record"

	sqlitestore "screentrail/internal/storage/sqlite"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "screentrail-cli",
	Short: "CLI tool to interact with the screentrail daemon",
	Long:  `A command-line interface to control the running screentrail recorder via its Unix socket and to query recorded activity segments.`,
}

// --- Client Helper Function ---
func sendCommand(cmd ipc.Command) {
	conn, err := net.DialTimeout("unix", ipc.SocketPath, 2*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to daemon socket (%s): %v\nIs the screentrail daemon running?\n", ipc.SocketPath, err)
		os.Exit(1)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	if err := encoder.Encode(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error sending command: %v\n", err)
		os.Exit(1)
	}

	var resp ipc.Response
	if err := decoder.Decode(&resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error receiving response: %v\n", err)
		os.Exit(1)
	}

	if resp.Success {
		if resp.Message != "" {
			fmt.Println("Success:", resp.Message)
		}
		if resp.Data != nil {
			prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
			if err == nil {
				fmt.Println(string(prettyData))
			} else {
				fmt.Println("Data (raw):", resp.Data)
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the screentrail daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPing})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recording state and per-monitor counters",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStatus})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause capture (open segments are closed at pause time)",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPause})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume capture after a pause",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdResume})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the recording session gracefully",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdStop})
	},
}

// --- Report Command ---

func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

type appTotal struct {
	app      string
	total    time.Duration
	captured time.Duration
	segments int
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate recorded time per application from the segment database",
	Run: func(cmd *cobra.Command, args []string) {
		fromStr, _ := cmd.Flags().GetString("from")
		toStr, _ := cmd.Flags().GetString("to")

		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		from, err := parseTime(fromStr, midnight)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --from value %q: %v\n", fromStr, err)
			os.Exit(1)
		}
		to, err := parseTime(toStr, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --to value %q: %v\n", toStr, err)
			os.Exit(1)
		}

		store := sqlitestore.NewSQLiteStore(dbPath)
		ctx := context.Background()
		if err := store.Init(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open segment database %s: %v\n", dbPath, err)
			os.Exit(1)
		}
		defer store.Close()

		segs, err := store.GetSegments(ctx, from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to query segments: %v\n", err)
			os.Exit(1)
		}
		if len(segs) == 0 {
			fmt.Println("No activity recorded in the given range.")
			return
		}

		byApp := make(map[string]*appTotal)
		for _, s := range segs {
			t := byApp[s.AppName]
			if t == nil {
				t = &appTotal{app: s.AppName}
				byApp[s.AppName] = t
			}
			t.total += s.Duration()
			if s.IsCaptured {
				t.captured += s.Duration()
			}
			t.segments++
		}

		totals := make([]*appTotal, 0, len(byApp))
		for _, t := range byApp {
			totals = append(totals, t)
		}
		sort.Slice(totals, func(i, j int) bool { return totals[i].total > totals[j].total })

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "APP\tTOTAL\tCAPTURED\tSEGMENTS")
		for _, t := range totals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				t.app,
				t.total.Round(time.Second),
				t.captured.Round(time.Second),
				t.segments)
		}
		w.Flush()
	},
}

// tailCmd prints the segments of a session log file; handy for checking a
// run without opening the database.
var tailCmd = &cobra.Command{
	Use:   "tail <session.jsonl>",
	Short: "Print the activity segments from a session JSONL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "START\tEND\tAPP\tTITLE\tCAPTURED")
		dec := json.NewDecoder(f)
		for dec.More() {
			var seg record.Segment
			if err := dec.Decode(&seg); err != nil {
				fmt.Fprintf(os.Stderr, "Malformed segment line: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
				seg.StartTime.Format(time.RFC3339),
				seg.EndTime.Format(time.RFC3339),
				seg.AppName,
				seg.WindowTitle,
				seg.IsCaptured)
		}
		w.Flush()
	},
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".screentrail", "screentrail.db")
	}
	return filepath.Join(home, ".screentrail", "screentrail.db")
}

func main() {
	reportCmd.Flags().String("from", "", "Range start (YYYY-MM-DD or RFC3339; default: today 00:00)")
	reportCmd.Flags().String("to", "", "Range end (YYYY-MM-DD or RFC3339; default: now)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "Path to the segment database")

	rootCmd.AddCommand(pingCmd, statusCmd, pauseCmd, resumeCmd, stopCmd, reportCmd, tailCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
