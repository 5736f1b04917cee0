package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command carrying all client command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "canvass",
		Short: "Canvass client commands",
	}
	root.AddCommand(NewAuthCommand(baseURL))
	root.AddCommand(NewReviewCommand(baseURL))
	root.AddCommand(NewSurveyCommand(baseURL))
	root.AddCommand(NewBatchCommand(baseURL))
	return root
}
