// delete.go implements 'stackctl delete-stack', tearing a stack down and waiting for settlement.
package main

import (
	"github.com/spf13/cobra"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/engine"
	"github.com/example/stackctl/internal/logging"
	"github.com/example/stackctl/internal/outcome"
)

func newDeleteStackCommand(opts *config.Options) *cobra.Command {
	deleteOpts := config.NewDeleteOptions()
	cmd := &cobra.Command{
		Use:   "delete-stack",
		Short: "Delete a stack and wait for it to settle",
		Long: `Delete the named stack and stream its events until the deletion settles.
Deleting a stack that does not exist succeeds without doing anything. A prior
DELETE_FAILED attempt can be retried with --retain-resources to skip the
resources that refused to go.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			if err := deleteOpts.Validate(); err != nil {
				return err
			}
			return runDeleteStack(cmd, opts, deleteOpts)
		},
	}
	deleteOpts.BindFlags(cmd.Flags())
	cmd.Example = `  # Delete the "infra" stack
  stackctl delete-stack --stack-name infra

  # Retry a failed deletion, keeping the bucket that would not empty
  stackctl delete-stack --stack-name infra --retain-resources LogBucket`
	return cmd
}

func runDeleteStack(cmd *cobra.Command, opts *config.Options, deleteOpts *config.DeleteOptions) error {
	ctx := cmd.Context()
	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		return err
	}

	cfg, err := loadAWSConfig(ctx, opts.Region)
	if err != nil {
		return err
	}

	writer, err := openCapture(opts, "delete-stack", deleteOpts.StackName, cfg.Region)
	if err != nil {
		return err
	}
	defer writer.Close()

	eng := engine.New(newCFNClient(cfg), engine.Options{Logger: logger})
	op := eng.Delete(ctx, engine.DeleteInput{
		StackName:          deleteOpts.StackName,
		RetainResources:    deleteOpts.RetainResources,
		RoleARN:            deleteOpts.RoleARN,
		ClientRequestToken: deleteOpts.ClientRequestToken,
	})
	res, err := streamOperation(cmd, opts, logger, writer, op)
	return finishCommand(cmd, opts, outcome.Classify(outcome.KindDelete, res, err))
}
