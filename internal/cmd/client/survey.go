package client

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// NewSurveyCommand constructs the `survey` command group for admins.
func NewSurveyCommand(baseURL BaseURLFunc) *cobra.Command {
	surveyCmd := &cobra.Command{Use: "survey", Short: "Survey administration"}
	surveyCmd.AddCommand(
		newSurveyCreateCommand(baseURL),
		newSurveyGetCommand(baseURL),
		newSurveyAssignCommand(baseURL),
		newSurveyActivityCommand(baseURL),
	)
	return surveyCmd
}

func newSurveyCreateCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a survey",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			acs, _ := cmd.Flags().GetStringSlice("acs")
			rate, _ := cmd.Flags().GetFloat64("sample-rate")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/surveys", map[string]any{
				"name": name, "acs": acs, "qcSampleRate": rate,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("name", "", "Survey name")
	cmd.Flags().StringSlice("acs", nil, "Administrative units covered by the survey")
	cmd.Flags().Float64("sample-rate", 0, "QC sample rate (0 uses the server default)")
	return cmd
}

func newSurveyGetCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a survey",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("survey")
			if id == "" {
				return fmt.Errorf("--survey is required")
			}
			body, status, err := doJSON(baseURL, http.MethodGet, "/api/surveys/"+id, nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("survey", "", "Survey id")
	return cmd
}

func newSurveyAssignCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign-agent",
		Short: "Grant or revoke a quality agent's access to a survey",
		RunE: func(cmd *cobra.Command, _ []string) error {
			surveyID, _ := cmd.Flags().GetString("survey")
			agentID, _ := cmd.Flags().GetString("agent")
			acs, _ := cmd.Flags().GetStringSlice("acs")
			remove, _ := cmd.Flags().GetBool("remove")
			if surveyID == "" || agentID == "" {
				return fmt.Errorf("--survey and --agent are required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/surveys/"+surveyID+"/quality-agents", map[string]any{
				"agentId": agentID, "acs": acs, "remove": remove,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("survey", "", "Survey id")
	cmd.Flags().String("agent", "", "Quality agent user id")
	cmd.Flags().StringSlice("acs", nil, "Optional AC restriction")
	cmd.Flags().Bool("remove", false, "Revoke instead of grant")
	return cmd
}

func newSurveyActivityCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Read a survey's audit trail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			surveyID, _ := cmd.Flags().GetString("survey")
			if surveyID == "" {
				return fmt.Errorf("--survey is required")
			}
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			desc, _ := cmd.Flags().GetBool("desc")
			path := fmt.Sprintf("/api/surveys/%s/activity?from=%d&limit=%d", surveyID, from, limit)
			if desc {
				path += "&order=desc"
			}
			body, status, err := doJSON(baseURL, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("survey", "", "Survey id")
	cmd.Flags().Uint64("from", 0, "Resume from this sequence")
	cmd.Flags().Int("limit", 100, "Page size")
	cmd.Flags().Bool("desc", false, "Newest entries first")
	return cmd
}

// NewBatchCommand constructs the `batch` command group for QC batches.
func NewBatchCommand(baseURL BaseURLFunc) *cobra.Command {
	batchCmd := &cobra.Command{Use: "batch", Short: "QC batch operations"}

	openCmd := &cobra.Command{
		Use:   "open",
		Short: "Open a collecting QC batch for a survey",
		RunE: func(cmd *cobra.Command, _ []string) error {
			surveyID, _ := cmd.Flags().GetString("survey")
			if surveyID == "" {
				return fmt.Errorf("--survey is required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/qc-batches", map[string]any{"surveyId": surveyID})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	openCmd.Flags().String("survey", "", "Survey id")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a batch, sampling a share of its responses for review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			batchID, _ := cmd.Flags().GetString("batch")
			if batchID == "" {
				return fmt.Errorf("--batch is required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/qc-batches/"+batchID+"/resolve", nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	resolveCmd.Flags().String("batch", "", "Batch id")

	batchCmd.AddCommand(openCmd, resolveCmd)
	return batchCmd
}
