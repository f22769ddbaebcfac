package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/botfleet/botfleet"
	"github.com/spf13/cobra"
)

func createStatusCommand(flags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List all tracked bots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := NewAPIClient(flags.URL, flags.Timeout).List()
			if err != nil {
				return err
			}
			printRecords(cmd, recs)
			return nil
		},
	}
}

func createStartCommand(flags *APIFlags) *cobra.Command {
	var script, profile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a bot from a launch script",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if script == "" || profile == "" {
				return fmt.Errorf("--script and --profile are required")
			}
			rec, err := NewAPIClient(flags.URL, flags.Timeout).Start(script, profile)
			if err != nil {
				return err
			}
			cmd.Printf("started %s (pid %d)\n", rec.Profile, rec.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "path to the launch script")
	cmd.Flags().StringVar(&profile, "profile", "", "bot profile name")
	return cmd
}

func createStopCommand(flags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pid>",
		Short: "Stop a bot (manual stop, no auto-restart)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			if err := NewAPIClient(flags.URL, flags.Timeout).Stop(pid); err != nil {
				return err
			}
			cmd.Printf("stopped pid %d\n", pid)
			return nil
		},
	}
}

func createRestartCommand(flags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <pid>",
		Short: "Stop and relaunch a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			rec, err := NewAPIClient(flags.URL, flags.Timeout).Restart(pid)
			if err != nil {
				return err
			}
			cmd.Printf("restarted %s (pid %d -> %d)\n", rec.Profile, pid, rec.PID)
			return nil
		},
	}
}

func createAntiCrashCommand(flags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "anticrash <pid>",
		Short: "Toggle automatic restart for a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			v, err := NewAPIClient(flags.URL, flags.Timeout).ToggleAntiCrash(pid)
			if err != nil {
				return err
			}
			cmd.Printf("anti-crash for pid %d: %v\n", pid, v)
			return nil
		},
	}
}

func createRemoveCommand(flags *APIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <pid>",
		Short: "Remove a stopped bot from tracking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			if err := NewAPIClient(flags.URL, flags.Timeout).Remove(pid); err != nil {
				return err
			}
			cmd.Printf("removed pid %d\n", pid)
			return nil
		},
	}
}

func createScanCommand(flags *APIFlags) *cobra.Command {
	var signature string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover already-running bot processes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := NewAPIClient(flags.URL, flags.Timeout).Scan(signature)
			if err != nil {
				return err
			}
			cmd.Printf("detected %d new bot(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "command-line fragment to match (daemon default when empty)")
	return cmd
}

func createCleanupCommand(flags *APIFlags) *cobra.Command {
	var age time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge old terminated bot records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := NewAPIClient(flags.URL, flags.Timeout).Cleanup(age)
			if err != nil {
				return err
			}
			cmd.Printf("removed %d record(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&age, "age", 24*time.Hour, "remove terminal records not seen for this long")
	return cmd
}

func createHistoryCommand(flags *APIFlags) *cobra.Command {
	var profile string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := NewAPIClient(flags.URL, flags.Timeout).History(profile, limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				cmd.Printf("%v %v pid=%v profile=%v %v\n",
					e["occurred_at"], e["type"], e["pid"], e["profile"], e["detail"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "filter by profile")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to show")
	return cmd
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

func printRecords(cmd *cobra.Command, recs []botfleet.Record) {
	if len(recs) == 0 {
		cmd.Println("no bots tracked")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PID\tPROFILE\tSTATUS\tUPTIME\tCPU%\tMEM\tRESTARTS\tANTICRASH\tDETECTED")
	for _, r := range recs {
		uptime := "-"
		if r.Status == botfleet.StatusRunning || r.Status == botfleet.StatusStarting {
			uptime = r.Uptime(time.Now()).Truncate(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.1f\t%s\t%d\t%v\t%v\n",
			r.PID, r.Profile, r.Status, uptime, r.CPUPercent,
			formatBytes(r.MemoryBytes), r.Restarts, r.AntiCrash, r.Detected)
	}
	_ = w.Flush()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
