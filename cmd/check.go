package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/jira"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/store"
)

// checkCmd reports the effective configuration and probes the pieces that
// can be probed without side effects.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration and connectivity",
	Long: `Print the effective configuration (credentials masked), verify that the
configured Jira project and issue type exist, and report the state of the
job queue. Exits non-zero when sync cannot run as configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		fmt.Printf("Environment:      %s\n", cfg.Env)
		fmt.Printf("Sync enabled:     %t\n", cfg.Sync.Enabled)
		fmt.Printf("Accepted status:  %s\n", orUnset(cfg.Sync.AcceptedStatus))
		fmt.Printf("Required role:    %s\n", orUnset(cfg.Sync.RequiredRole))
		fmt.Printf("Summary template: %s\n", orUnset(cfg.Sync.SummaryTemplate))
		fmt.Println()
		fmt.Printf("Jira URL:         %s\n", orUnset(cfg.Jira.BaseURL))
		fmt.Printf("Jira email:       %s\n", orUnset(cfg.Jira.Email))
		fmt.Printf("Jira API token:   %s\n", logging.MaskSensitive(cfg.Jira.APIToken))
		fmt.Printf("Jira project:     %s\n", orUnset(cfg.Jira.ProjectKey))
		fmt.Printf("Jira issue type:  %s\n", orUnset(cfg.Jira.IssueType))
		fmt.Println()
		fmt.Printf("Tracker URL:      %s\n", orUnset(cfg.Tracker.BaseURL))
		fmt.Printf("Tracker token:    %s\n", logging.MaskSensitive(cfg.Tracker.Token))
		fmt.Println()

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open job store at %s: %v", cfg.Store.Path, err)
		}
		defer st.Close()

		counts, err := st.CountByState(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to count jobs: %v", err)
		}
		fmt.Printf("Job store:        %s\n", cfg.Store.Path)
		if len(counts) == 0 {
			fmt.Println("Jobs:             none")
		} else {
			for state, n := range counts {
				fmt.Printf("Jobs %-17s %d\n", string(state)+":", n)
			}
		}
		fmt.Println()

		if missing := cfg.MissingForSync(); len(missing) > 0 {
			fmt.Println("Sync is NOT ready. Missing configuration:")
			for _, name := range missing {
				fmt.Printf("  - %s\n", name)
			}
			return fmt.Errorf("configuration incomplete")
		}

		client, err := jira.NewClient(cfg.Jira)
		if err != nil {
			return fmt.Errorf("failed to initialize jira client: %v", err)
		}
		if err := client.CheckProject(cmd.Context(), cfg.Jira.ProjectKey, cfg.Jira.IssueType); err != nil {
			return fmt.Errorf("jira check failed: %v", err)
		}
		fmt.Printf("Jira project %s with issue type %q: OK\n", cfg.Jira.ProjectKey, cfg.Jira.IssueType)
		return nil
	},
}

func orUnset(v string) string {
	if v == "" {
		return "<not set>"
	}
	return v
}
