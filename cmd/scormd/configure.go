package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/upload"
)

// NewConfigureCommand edits the settings of one content block. Flags that
// are not given keep their stored value.
func NewConfigureCommand(fs afero.Fs, ctx context.Context, opts *rootOptions, logger *logging.Logger) *cobra.Command {
	var (
		weight         float64
		autoCompletion bool
		encoding       string
	)
	cmd := &cobra.Command{
		Use:     "configure [block key]",
		Aliases: []string{"c"},
		Example: "$ scormd configure intro-course --weight 2 --encoding cp437",
		Short:   "Set grading weight, auto completion and archive name encoding",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !upload.ValidKey(key) {
				return fmt.Errorf("invalid block key %q", key)
			}
			if weight < 0 {
				return fmt.Errorf("weight cannot be negative")
			}

			a, err := opts.build(ctx, fs, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Status.Settings(ctx, key)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("weight") {
				st.Weight = weight
			}
			if flags.Changed("auto-completion") {
				st.AutoCompletion = autoCompletion
			}
			if flags.Changed("encoding") {
				st.Encoding = encoding
			}
			if err := a.Fields.SaveSettings(ctx, key, st); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "weight=%g auto_completion=%t encoding=%q\n",
				st.Weight, st.AutoCompletion, st.Encoding)
			return nil
		},
	}
	cmd.Flags().Float64Var(&weight, "weight", 1, "grading weight, 0 marks the block as no-credit")
	cmd.Flags().BoolVar(&autoCompletion, "auto-completion", false, "report full completion when a learner opens the block")
	cmd.Flags().StringVar(&encoding, "encoding", "", "IANA charset of archive entry names without the UTF-8 flag")
	return cmd
}
