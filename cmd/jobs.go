package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/pkg/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair the sync job queue",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openJobStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stateFlag, err := cmd.Flags().GetString("state")
		if err != nil {
			return err
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		state := models.JobState(stateFlag)
		if stateFlag != "" && !state.Valid() {
			return fmt.Errorf("unknown state %q", stateFlag)
		}

		jobs, err := st.ListJobs(cmd.Context(), state, limit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %v", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "OBJECT\tSTATE\tATTEMPTS\tNEXT ATTEMPT\tEXTERNAL KEY\tLAST ERROR")
		for _, job := range jobs {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
				job.ObjectID, job.State, job.Attempts,
				formatJobTime(job.NextAttemptAt), job.ExternalKey,
				truncateForTable(job.LastError))
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <object-id>",
	Short: "Show one sync job in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objectID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid object id %q", args[0])
		}

		st, err := openJobStore()
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.GetJob(cmd.Context(), objectID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no sync job for object %d", objectID)
		}
		if err != nil {
			return fmt.Errorf("failed to load job: %v", err)
		}

		fmt.Printf("Object:        %d\n", job.ObjectID)
		fmt.Printf("State:         %s\n", job.State)
		fmt.Printf("Attempts:      %d\n", job.Attempts)
		fmt.Printf("Next attempt:  %s\n", formatJobTime(job.NextAttemptAt))
		fmt.Printf("External key:  %s\n", job.ExternalKey)
		fmt.Printf("Locked by:     %s\n", job.LockedBy)
		fmt.Printf("Locked at:     %s\n", formatJobTime(job.LockedAt))
		fmt.Printf("Created:       %s\n", formatJobTime(job.CreatedAt))
		fmt.Printf("Updated:       %s\n", formatJobTime(job.UpdatedAt))
		fmt.Printf("Title:         %s\n", job.Payload.Title)
		fmt.Printf("Project:       %s\n", job.Payload.ProjectID)
		if job.LastError != "" {
			fmt.Printf("Last error:    %s\n", job.LastError)
		}
		return nil
	},
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <object-id>",
	Short: "Return a terminally failed job to the queue",
	Long: `Return a failed_terminal job to pending with a fresh attempt budget.

A recorded external key survives the requeue, so a job that already created
its Jira issue resumes at the write-back instead of creating a duplicate.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		objectID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid object id %q", args[0])
		}

		st, err := openJobStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ok, err := st.RequeueTerminal(cmd.Context(), objectID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to requeue job: %v", err)
		}
		if !ok {
			job, err := st.GetJob(cmd.Context(), objectID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no sync job for object %d", objectID)
			}
			if err != nil {
				return fmt.Errorf("failed to load job: %v", err)
			}
			return fmt.Errorf("job for object %d is %s; only failed_terminal jobs can be requeued",
				objectID, job.State)
		}

		fmt.Printf("Job %d requeued\n", objectID)
		return nil
	},
}

// openJobStore opens the configured job database for the operator commands.
func openJobStore() (*store.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store at %s: %v", cfg.Store.Path, err)
	}
	return st, nil
}

func formatJobTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// truncateForTable keeps list output one line per job.
func truncateForTable(s string) string {
	const max = 60
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func init() {
	jobsListCmd.Flags().String("state", "", "filter by state (pending, in_flight, succeeded, failed_retryable, failed_terminal)")
	jobsListCmd.Flags().Int("limit", 50, "maximum number of jobs to list")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsRequeueCmd)
}
