// apply.go implements 'stackctl apply-stack', converging a CloudFormation stack onto a template and waiting for settlement.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/stackctl/internal/assets"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/engine"
	"github.com/example/stackctl/internal/logging"
	"github.com/example/stackctl/internal/outcome"
	"github.com/example/stackctl/internal/template"
	"github.com/example/stackctl/internal/ui"
)

func newApplyStackCommand(opts *config.Options) *cobra.Command {
	applyOpts := config.NewApplyOptions()
	cmd := &cobra.Command{
		Use:   "apply-stack TEMPLATE",
		Short: "Create or update a stack and wait for it to settle",
		Long: `Create the stack if it does not exist, update it if it does, and stream its
events until the operation settles. Templates referencing local files or
directories have those assets zipped and uploaded to S3 first, with the
references rewritten to the uploaded locations. TEMPLATE is a file path or
'-' for stdin.

A stack stranded in ROLLBACK_COMPLETE, ROLLBACK_FAILED, or DELETE_FAILED is
deleted and recreated. The final outputs are printed to stdout as JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyOpts.TemplateSource = args[0]
			if err := opts.Validate(); err != nil {
				return err
			}
			if err := applyOpts.Validate(); err != nil {
				return err
			}
			return runApplyStack(cmd, opts, applyOpts)
		},
	}
	applyOpts.BindFlags(cmd.Flags())
	cmd.Example = `  # Deploy infra.yaml as stack "infra"
  stackctl apply-stack infra.yaml

  # Deploy with parameters and an IAM capability
  stackctl apply-stack infra.yaml --parameters Stage=prod --capabilities CAPABILITY_IAM

  # Package local Lambda code into S3 before deploying
  stackctl apply-stack infra.yaml --s3-bucket my-artifacts --s3-prefix infra`
	return cmd
}

func runApplyStack(cmd *cobra.Command, opts *config.Options, applyOpts *config.ApplyOptions) error {
	ctx := cmd.Context()
	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		return err
	}

	tpl, err := template.Load(applyOpts.TemplateSource, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadAWSConfig(ctx, opts.Region)
	if err != nil {
		return err
	}

	var store *assets.Store
	if applyOpts.Bucket != "" {
		store = assets.NewStore(newS3Client(cfg), applyOpts.Bucket, applyOpts.Prefix, cfg.Region, logger)
	}
	packager := assets.NewPackager(store, applyOpts.UploadConcurrency, logger)
	stopSpinner := func(bool) {}
	if store != nil && !opts.Quiet {
		stopSpinner = ui.StartSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Packaging assets for stack %s", applyOpts.StackName))
	}
	packaged, _, err := packager.Package(ctx, tpl)
	stopSpinner(err == nil)
	if err != nil {
		return err
	}
	body, err := packaged.Bytes()
	if err != nil {
		return err
	}

	writer, err := openCapture(opts, "apply-stack", applyOpts.StackName, cfg.Region)
	if err != nil {
		return err
	}
	defer writer.Close()

	eng := engine.New(newCFNClient(cfg), engine.Options{Logger: logger})
	op := eng.Apply(ctx, engine.ApplyInput{
		StackName:          applyOpts.StackName,
		TemplateBody:       string(body),
		Parameters:         applyOpts.Parameters,
		Capabilities:       applyOpts.CapabilityArgs,
		Tags:               applyOpts.Tags,
		RoleARN:            applyOpts.RoleARN,
		NotificationARNs:   applyOpts.NotificationARNs,
		ResourceTypes:      applyOpts.ResourceTypes,
		ClientRequestToken: applyOpts.ClientRequestToken,
	})
	res, err := streamOperation(cmd, opts, logger, writer, op)
	return finishCommand(cmd, opts, outcome.Classify(outcome.KindApply, res, err))
}
