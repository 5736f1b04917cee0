package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewReviewCommand constructs the `review` command group for quality agents.
func NewReviewCommand(baseURL BaseURLFunc) *cobra.Command {
	reviewCmd := &cobra.Command{Use: "review", Short: "Review assignment operations"}
	reviewCmd.AddCommand(
		newReviewNextCommand(baseURL),
		newReviewSkipCommand(baseURL),
		newReviewReleaseCommand(baseURL),
		newReviewVerifyCommand(baseURL),
	)
	return reviewCmd
}

func newReviewNextCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Pull the next response awaiting review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			for _, f := range []string{"search", "gender", "filter"} {
				if v, _ := cmd.Flags().GetString(f); v != "" {
					q.Set(f, v)
				}
			}
			if v, _ := cmd.Flags().GetString("mode"); v != "" {
				q.Set("interviewMode", v)
			}
			if v, _ := cmd.Flags().GetString("exclude"); v != "" {
				q.Set("excludeResponseId", v)
			}
			if v, _ := cmd.Flags().GetInt("age-min"); v > 0 {
				q.Set("ageMin", strconv.Itoa(v))
			}
			if v, _ := cmd.Flags().GetInt("age-max"); v > 0 {
				q.Set("ageMax", strconv.Itoa(v))
			}
			path := "/api/survey-responses/next-review-assignment"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			body, status, err := doJSON(baseURL, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("search", "", "Substring match on interviewer or response id")
	cmd.Flags().String("gender", "", "Respondent gender filter")
	cmd.Flags().Int("age-min", 0, "Minimum respondent age")
	cmd.Flags().Int("age-max", 0, "Maximum respondent age")
	cmd.Flags().String("mode", "", "Interview mode: capi|cati")
	cmd.Flags().String("exclude", "", "Response id to exclude")
	cmd.Flags().String("filter", "", "CEL filter expression")
	return cmd
}

func newReviewSkipCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the held response, deferring it behind its queue peers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("response")
			if id == "" {
				return fmt.Errorf("--response is required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/survey-responses/"+id+"/skip-assignment", nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("response", "", "Response id")
	return cmd
}

func newReviewReleaseCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release the held response back to the pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("response")
			if id == "" {
				return fmt.Errorf("--response is required")
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/survey-responses/"+id+"/release-assignment", nil)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("response", "", "Response id")
	return cmd
}

func newReviewVerifyCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit an approve/reject verdict",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("response")
			decision, _ := cmd.Flags().GetString("status")
			feedback, _ := cmd.Flags().GetString("feedback")
			criteriaPairs, _ := cmd.Flags().GetStringArray("criteria")
			if id == "" || decision == "" {
				return fmt.Errorf("--response and --status are required")
			}
			criteria, err := parseKVs(criteriaPairs)
			if err != nil {
				return err
			}
			body, status, err := doJSON(baseURL, http.MethodPost, "/api/survey-responses/submit-verification", map[string]any{
				"responseId":           id,
				"status":               decision,
				"verificationCriteria": criteria,
				"feedback":             feedback,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), body, status)
		},
	}
	cmd.Flags().String("response", "", "Response id")
	cmd.Flags().String("status", "", "Verdict: approved|rejected")
	cmd.Flags().String("feedback", "", "Reviewer feedback")
	cmd.Flags().StringArray("criteria", nil, "Repeated criterion=value pairs")
	return cmd
}
