package cli

import (
	"github.com/spf13/cobra"

	"github.com/heig-tin-info/baygon2/internal/merge"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// NewDumpCommand creates the dump command: print the fully resolved
// tree as canonical JSON, inheritance applied. Useful to see what a
// test will actually run with, and diffable across edits.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dump [document]",
		Short:         "Print the resolved test tree as canonical JSON",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _, err := loadDocument(rootOpts, schema.NewRegistry(), optionalArg(args))
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "invalid document", Err: err}
			}
			forest, err := merge.Merge(spec)
			if err != nil {
				return &ExitError{Code: ExitFailure, Message: "invalid document", Err: err}
			}
			out, err := merge.Dump(forest)
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
}
