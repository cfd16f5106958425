// package.go implements 'stackctl package', uploading a template's local assets and printing the rewritten template.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/stackctl/internal/assets"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/logging"
	"github.com/example/stackctl/internal/template"
	"github.com/example/stackctl/internal/ui"
)

func newPackageCommand(opts *config.Options) *cobra.Command {
	pkgOpts := config.NewPackageOptions()
	cmd := &cobra.Command{
		Use:   "package TEMPLATE",
		Short: "Upload local assets and print the rewritten template",
		Long: `Upload every local file or directory the template references to S3 and print
the template with those references rewritten to the uploaded locations. No
stack is touched. Objects are keyed by content digest, so unchanged assets
upload nothing. TEMPLATE is a file path or '-' for stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgOpts.TemplateSource = args[0]
			if err := opts.Validate(); err != nil {
				return err
			}
			if err := pkgOpts.Validate(); err != nil {
				return err
			}
			return runPackage(cmd, opts, pkgOpts)
		},
	}
	pkgOpts.BindFlags(cmd.Flags())
	cmd.Example = `  # Package infra.yaml's assets and save the deployable template
  stackctl package infra.yaml --s3-bucket my-artifacts > packaged.yaml`
	return cmd
}

func runPackage(cmd *cobra.Command, opts *config.Options, pkgOpts *config.PackageOptions) error {
	ctx := cmd.Context()
	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		return err
	}

	tpl, err := template.Load(pkgOpts.TemplateSource, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadAWSConfig(ctx, opts.Region)
	if err != nil {
		return err
	}

	store := assets.NewStore(newS3Client(cfg), pkgOpts.Bucket, pkgOpts.Prefix, cfg.Region, logger)
	packager := assets.NewPackager(store, pkgOpts.UploadConcurrency, logger)
	stopSpinner := func(bool) {}
	if !opts.Quiet {
		stopSpinner = ui.StartSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Uploading assets to s3://%s", pkgOpts.Bucket))
	}
	rewritten, uploads, err := packager.Package(ctx, tpl)
	stopSpinner(err == nil)
	if err != nil {
		return err
	}
	if !opts.Quiet {
		for _, rec := range uploads {
			verb := "Uploaded"
			if rec.Existed {
				verb = "Reused"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s s3://%s/%s (%d bytes)\n", verb, rec.Bucket, rec.Key, rec.Size)
		}
	}

	out, err := rewritten.Bytes()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
