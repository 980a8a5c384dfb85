package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"vmcarrier/internal/config"
	"vmcarrier/internal/provisioning"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// InspectorFactory creates the Compute Engine client used by --preflight and --describe
type InspectorFactory func(ctx context.Context, credentialsFile string) (provisioning.Inspector, error)

// Dependencies are the collaborators the command is built from
type Dependencies struct {
	Logger       *zap.Logger
	Config       *config.Config
	Runner       provisioning.Runner
	NewInspector InspectorFactory
	Out          io.Writer
}

type createOptions struct {
	project         string
	zone            string
	sourceImage     string
	serviceAccount  string
	subnet          string
	gcloudPath      string
	credentialsFile string
	preflight       bool
	describe        bool
	dryRun          bool
}

// NewRootCmd creates the vmcarrier command
func NewRootCmd(deps Dependencies) *cobra.Command {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}

	var opts createOptions
	rootCmd := &cobra.Command{
		Use:   "vmcarrier INSTANCE_NAME",
		Short: "Create a Google Compute Engine instance from a machine image",
		Long: `Create a Google Compute Engine instance in another project from a source
machine image, using the gcloud CLI.

Flags not given on the command line fall back to the config file
(CONFIG_PATH, default vmcarrier.yaml).

Example:
  vmcarrier web-1 --project=my-project \
    --source-image=projects/images/global/machineImages/base \
    --service-account=runner@my-project.iam.gserviceaccount.com \
    --subnet=default`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd.Context(), deps, opts, args[0])
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.project, "project", cfg.Project, "The Google Cloud project ID (required)")
	flags.StringVar(&opts.zone, "zone", cfg.DefaultZone, "The compute zone")
	flags.StringVar(&opts.sourceImage, "source-image", cfg.SourceImage, "The source machine image (gcloud compute machine-images list --uri) (required)")
	flags.StringVar(&opts.serviceAccount, "service-account", cfg.ServiceAccount, "The service account email for the instance (required)")
	flags.StringVar(&opts.subnet, "subnet", cfg.Subnet, "The subnet to deliver the VM to (required)")
	flags.StringVar(&opts.gcloudPath, "gcloud-path", cfg.GcloudPath, "Path to the gcloud executable")
	flags.StringVar(&opts.credentialsFile, "credentials-file", cfg.CredentialsFile, "Service account key for --preflight and --describe")
	flags.BoolVar(&opts.preflight, "preflight", false, "Check that the source machine image exists before creating the instance")
	flags.BoolVar(&opts.describe, "describe", false, "Log the instance details after it is created")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print the gcloud command without running it")

	return rootCmd
}

func runCreate(ctx context.Context, deps Dependencies, opts createOptions, instanceName string) error {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	req := provisioning.ProvisionRequest{
		InstanceName:   instanceName,
		Project:        opts.project,
		Zone:           opts.zone,
		SourceImage:    opts.sourceImage,
		ServiceAccount: opts.serviceAccount,
		Subnet:         opts.subnet,
	}

	provOpts := []provisioning.Option{
		provisioning.WithBinary(opts.gcloudPath),
		provisioning.WithPreflight(opts.preflight),
		provisioning.WithDescribe(opts.describe),
	}

	if opts.dryRun {
		p := provisioning.NewProvisioner(logger, deps.Runner, provOpts...)
		command, err := p.Plan(req)
		if err != nil {
			return err
		}
		logger.Info("Dry run, command not executed")
		out := deps.Out
		if out == nil {
			out = os.Stdout
		}
		fmt.Fprintln(out, strings.Join(command, " "))
		return nil
	}

	if (opts.preflight || opts.describe) && deps.NewInspector != nil {
		inspector, err := deps.NewInspector(ctx, opts.credentialsFile)
		if err != nil {
			return fmt.Errorf("failed to create compute client: %w", err)
		}
		provOpts = append(provOpts, provisioning.WithInspector(inspector))
	}

	p := provisioning.NewProvisioner(logger, deps.Runner, provOpts...)
	return p.Provision(ctx, req)
}

// Execute runs the command with the process arguments and returns the exit code
func Execute(ctx context.Context, deps Dependencies) int {
	return ExecuteArgs(ctx, deps, os.Args[1:])
}

// ExecuteArgs runs the command with the given arguments and returns the exit code
func ExecuteArgs(ctx context.Context, deps Dependencies, args []string) int {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.With(zap.String("invocation_id", uuid.NewString()))

	deps.Logger.Info("Starting execution")

	rootCmd := NewRootCmd(deps)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)

	code := ExitCode(err)
	if err != nil {
		deps.Logger.Error("Execution failed", zap.Error(err), zap.Int("exit_code", code))
		if !isProvisioningError(err) {
			// Usage errors are not logged by the provisioner; show them on stderr too.
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		}
		return code
	}

	deps.Logger.Info("Execution completed")
	return code
}

// ExitCode maps an error to a process exit status. The exit status of a
// failed gcloud run is passed through.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *provisioning.ExternalCommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
		return cmdErr.ExitCode
	}
	return 1
}

func isProvisioningError(err error) bool {
	var vErr *provisioning.ValidationError
	var cmdErr *provisioning.ExternalCommandError
	return errors.As(err, &vErr) || errors.As(err, &cmdErr)
}
