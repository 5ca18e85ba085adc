package cli

import (
	"github.com/spf13/cobra"

	"github.com/heig-tin-info/baygon2/internal/merge"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// NewCheckCommand creates the check command: parse, normalize and
// resolve the document without executing anything.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check [document]",
		Short:         "Validate the test document without running tests",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

			spec, path, err := loadDocument(rootOpts, schema.NewRegistry(), optionalArg(args))
			if err != nil {
				_ = formatter.Failure(err.Error())
				return &ExitError{Code: ExitFailure, Message: "invalid document", Err: err}
			}
			forest, err := merge.Merge(spec)
			if err != nil {
				_ = formatter.Failure(err.Error())
				return &ExitError{Code: ExitFailure, Message: "invalid document", Err: err}
			}

			leaves := len(merge.Leaves(forest))
			if formatter.JSON() {
				return formatter.Success(map[string]any{"path": path, "tests": leaves})
			}
			cmd.Printf("%s: ok (%d runnable tests)\n", path, leaves)
			return nil
		},
	}
}
