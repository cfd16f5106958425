// File: internal/config/config.go
// Brief: Internal config package implementation for 'config'.

// Package config defines the flag plumbing and runtime options shared by
// stackctl's commands, translating Cobra/Viper flag values into strongly typed
// structs that the packaging and engine layers consume.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// StdinSource is the positional argument selecting stdin as the template.
const StdinSource = "-"

// AllowedCapabilities lists the IAM acknowledgements CloudFormation accepts.
var AllowedCapabilities = []string{
	"CAPABILITY_IAM",
	"CAPABILITY_NAMED_IAM",
	"CAPABILITY_AUTO_EXPAND",
}

// Options holds the persistent CLI configuration shared by every command.
type Options struct {
	Region      string
	Quiet       bool
	LogLevel    string
	CapturePath string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		LogLevel: "warn",
	}
}

// AddFlags binds the persistent flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.PersistentFlags())
}

// BindFlags attaches the persistent flags to an arbitrary FlagSet and returns
// the flag names for further customization.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.Region, "region", "", "AWS region to target (defaults to AWS_REGION, then the shared AWS config)")
	names = append(names, "region")
	fs.BoolVarP(&o.Quiet, "quiet", "q", false, "Suppress stack event lines on stderr")
	names = append(names, "quiet")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Diagnostic log level: debug, info, warn, or error")
	names = append(names, "log-level")
	fs.StringVar(&o.CapturePath, "capture", "", "Record this run's stack events into a SQLite file at the given path")
	names = append(names, "capture")
	return names
}

// Validate normalizes the persistent options.
func (o *Options) Validate() error {
	o.Region = strings.TrimSpace(o.Region)
	o.CapturePath = strings.TrimSpace(o.CapturePath)
	return nil
}

// ApplyOptions carries the apply-stack flag surface.
type ApplyOptions struct {
	TemplateSource     string
	StackName          string
	ParameterArgs      []string
	CapabilityArgs     []string
	TagArgs            []string
	RoleARN            string
	NotificationARNs   []string
	ResourceTypes      []string
	ClientRequestToken string
	Bucket             string
	Prefix             string
	UploadConcurrency  int

	// Populated by Validate.
	Parameters map[string]string
	Tags       map[string]string
}

// NewApplyOptions returns ApplyOptions with defaults applied.
func NewApplyOptions() *ApplyOptions {
	return &ApplyOptions{
		UploadConcurrency: 4,
	}
}

// BindFlags attaches the apply-stack flags and returns the flag names.
func (o *ApplyOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.StackName, "stack-name", "n", "", "Name of the stack to apply (defaults to the template file stem)")
	names = append(names, "stack-name")
	fs.StringArrayVar(&o.ParameterArgs, "parameters", nil, "Template parameter as key=value (repeat for multiple)")
	names = append(names, "parameters")
	fs.StringSliceVar(&o.CapabilityArgs, "capabilities", nil, "Capabilities to acknowledge: CAPABILITY_IAM, CAPABILITY_NAMED_IAM, CAPABILITY_AUTO_EXPAND")
	names = append(names, "capabilities")
	fs.StringArrayVar(&o.TagArgs, "tags", nil, "Stack tag as key=value or a JSON object of tags (repeat for multiple)")
	names = append(names, "tags")
	fs.StringVar(&o.RoleARN, "role-arn", "", "IAM role ARN CloudFormation assumes for the operation")
	names = append(names, "role-arn")
	fs.StringSliceVar(&o.NotificationARNs, "notification-arns", nil, "SNS topic ARNs notified of stack events")
	names = append(names, "notification-arns")
	fs.StringSliceVar(&o.ResourceTypes, "resource-types", nil, "Resource types the operation is allowed to touch")
	names = append(names, "resource-types")
	fs.StringVar(&o.ClientRequestToken, "client-request-token", "", "Idempotency token for the operation")
	names = append(names, "client-request-token")
	fs.StringVar(&o.Bucket, "s3-bucket", "", "S3 bucket receiving packaged assets (required when the template references local paths)")
	names = append(names, "s3-bucket")
	fs.StringVar(&o.Prefix, "s3-prefix", "", "Key prefix for packaged assets")
	names = append(names, "s3-prefix")
	fs.IntVar(&o.UploadConcurrency, "upload-concurrency", o.UploadConcurrency, "Upper bound on parallel asset uploads")
	names = append(names, "upload-concurrency")
	return names
}

// Validate parses the raw flag values and fills in derived fields.
func (o *ApplyOptions) Validate() error {
	o.StackName = strings.TrimSpace(o.StackName)
	if o.StackName == "" {
		if o.TemplateSource == StdinSource {
			return fmt.Errorf("--stack-name is required when the template is read from stdin")
		}
		o.StackName = stemOf(o.TemplateSource)
	}
	params, err := parseKeyValues(o.ParameterArgs, "parameter")
	if err != nil {
		return err
	}
	o.Parameters = params
	tags, err := parseTags(o.TagArgs)
	if err != nil {
		return err
	}
	o.Tags = tags
	for _, c := range o.CapabilityArgs {
		if !isAllowedCapability(c) {
			return fmt.Errorf("invalid capability %q, should be one of CAPABILITY_IAM, CAPABILITY_NAMED_IAM, or CAPABILITY_AUTO_EXPAND", c)
		}
	}
	if o.UploadConcurrency < 1 {
		return fmt.Errorf("--upload-concurrency must be at least 1")
	}
	return nil
}

// DeleteOptions carries the delete-stack flag surface.
type DeleteOptions struct {
	StackName          string
	RetainResources    []string
	RoleARN            string
	ClientRequestToken string
}

// NewDeleteOptions returns DeleteOptions with defaults applied.
func NewDeleteOptions() *DeleteOptions {
	return &DeleteOptions{}
}

// BindFlags attaches the delete-stack flags and returns the flag names.
func (o *DeleteOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.StackName, "stack-name", "n", "", "Name of the stack to delete")
	names = append(names, "stack-name")
	fs.StringSliceVar(&o.RetainResources, "retain-resources", nil, "Logical IDs of resources to keep when deleting a DELETE_FAILED stack")
	names = append(names, "retain-resources")
	fs.StringVar(&o.RoleARN, "role-arn", "", "IAM role ARN CloudFormation assumes for the operation")
	names = append(names, "role-arn")
	fs.StringVar(&o.ClientRequestToken, "client-request-token", "", "Idempotency token for the operation")
	names = append(names, "client-request-token")
	return names
}

// Validate checks the delete-stack options.
func (o *DeleteOptions) Validate() error {
	o.StackName = strings.TrimSpace(o.StackName)
	if o.StackName == "" {
		return fmt.Errorf("--stack-name is required")
	}
	return nil
}

// PackageOptions carries the package flag surface.
type PackageOptions struct {
	TemplateSource    string
	Bucket            string
	Prefix            string
	UploadConcurrency int
}

// NewPackageOptions returns PackageOptions with defaults applied.
func NewPackageOptions() *PackageOptions {
	return &PackageOptions{
		UploadConcurrency: 4,
	}
}

// BindFlags attaches the package flags and returns the flag names.
func (o *PackageOptions) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.Bucket, "s3-bucket", "", "S3 bucket receiving packaged assets")
	names = append(names, "s3-bucket")
	fs.StringVar(&o.Prefix, "s3-prefix", "", "Key prefix for packaged assets")
	names = append(names, "s3-prefix")
	fs.IntVar(&o.UploadConcurrency, "upload-concurrency", o.UploadConcurrency, "Upper bound on parallel asset uploads")
	names = append(names, "upload-concurrency")
	return names
}

// Validate checks the package options.
func (o *PackageOptions) Validate() error {
	o.Bucket = strings.TrimSpace(o.Bucket)
	if o.Bucket == "" {
		return fmt.Errorf("--s3-bucket is required")
	}
	if o.UploadConcurrency < 1 {
		return fmt.Errorf("--upload-concurrency must be at least 1")
	}
	return nil
}

// stemOf derives a stack name from a template path: the base name with its
// final extension removed.
func stemOf(source string) string {
	base := filepath.Base(source)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func isAllowedCapability(c string) bool {
	for _, allowed := range AllowedCapabilities {
		if c == allowed {
			return true
		}
	}
	return false
}

// parseKeyValues splits key=value arguments, rejecting duplicates.
func parseKeyValues(args []string, kind string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid %s %q (expected key=value)", kind, arg)
		}
		if _, ok := out[parts[0]]; ok {
			return nil, fmt.Errorf("duplicate %s %q", kind, parts[0])
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// parseTags accepts either a JSON object of tags or a key=value pair per
// argument. JSON is tried first so values containing '=' survive.
func parseTags(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, arg := range args {
		var obj map[string]string
		if err := json.Unmarshal([]byte(arg), &obj); err == nil {
			for k, v := range obj {
				if _, ok := out[k]; ok {
					return nil, fmt.Errorf("duplicate tag %q", k)
				}
				out[k] = v
			}
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid tag %q (expected key=value or a JSON object)", arg)
		}
		if _, ok := out[parts[0]]; ok {
			return nil, fmt.Errorf("duplicate tag %q", parts[0])
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}
