// main.go bootstraps stackctl: it builds the root Cobra command, wires profiling, and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/outcome"
	"github.com/example/stackctl/internal/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopProfile := setupProfiling()
	defer stopProfile()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if code := exitCode(err); code != 0 {
		stopProfile()
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	cmd := &cobra.Command{
		Use:   "stackctl",
		Short: "Declarative CloudFormation stack deployments",
		Long: `stackctl deploys and deletes AWS CloudFormation stacks. apply-stack converges
a stack onto a template and delete-stack tears it down; both stream stack
events to stderr until the operation settles and print the stack's outputs as
JSON on stdout. Templates referencing local files or directories are packaged
into content-addressed S3 objects first.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.AddFlags(cmd)
	applyCmd := newApplyStackCommand(opts)
	deleteCmd := newDeleteStackCommand(opts)
	packageCmd := newPackageCommand(opts)
	cmd.AddCommand(
		applyCmd,
		deleteCmd,
		packageCmd,
		newCompletionCommand(cmd),
		newVersionCommand(),
	)
	cmd.Example = `  # Deploy template.yaml as stack "template" and wait for it to settle
  stackctl apply-stack template.yaml

  # Package local Lambda code into S3, then deploy
  stackctl apply-stack template.yaml --s3-bucket my-artifacts

  # Tear the stack down
  stackctl delete-stack --stack-name template`
	bindViper(cmd, applyCmd, deleteCmd, packageCmd)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STACKCTL")
	v.AutomaticEnv()
	// The region flag also honors the conventional AWS variable.
	if err := v.BindEnv("region", "STACKCTL_REGION", "AWS_REGION"); err != nil {
		cobra.CheckErr(err)
	}
	configFile := os.Getenv("STACKCTL_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			flagSets := []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()}
			for _, fs := range flagSets {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed {
						return
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

// handleError prints diagnostics for failures that no command has rendered
// yet. Verdict-carrying errors were already written by their command.
func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var exitErr *outcome.ExitCodeError
	if errors.As(err, &exitErr) {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
}

func exitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return outcome.ExitOK
	}
	var exitErr *outcome.ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return outcome.ExitFailure
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "stackctl"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "stackctl"))
		add(filepath.Join(home, ".stackctl"))
	}
	return dirs
}

func setupProfiling() func() {
	mode := strings.ToLower(os.Getenv("STACKCTL_PROFILE"))
	if mode != "startup" {
		return func() {}
	}
	ts := time.Now().UTC().Format("20060102-150405")
	cpuPath := fmt.Sprintf("stackctl-startup-%s.cpu.pprof", ts)
	cpuFile, err := os.Create(cpuPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to create CPU profile %s: %v\n", cpuPath, err)
		return func() {}
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to start CPU profile: %v\n", err)
		cpuFile.Close()
		return func() {}
	}
	fmt.Fprintf(os.Stderr, "STACKCTL_PROFILE=startup: writing CPU profile to %s\n", cpuPath)
	memPath := fmt.Sprintf("stackctl-startup-%s.mem.pprof", ts)
	return func() {
		pprof.StopCPUProfile()
		cpuFile.Close()
		memFile, err := os.Create(memPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to create heap profile %s: %v\n", memPath, err)
			return
		}
		defer memFile.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(memFile); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to write heap profile: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "STACKCTL_PROFILE=startup: writing heap profile to %s\n", memPath)
	}
}
