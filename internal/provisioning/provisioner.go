package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vmcarrier/internal/logging"

	"go.uber.org/zap"
)

// Provisioner creates Compute Engine instances by running gcloud
type Provisioner struct {
	logger    *zap.Logger
	runner    Runner
	binary    string
	inspector Inspector
	preflight bool
	describe  bool
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithBinary sets the gcloud executable
func WithBinary(binary string) Option {
	return func(p *Provisioner) {
		if binary != "" {
			p.binary = binary
		}
	}
}

// WithInspector sets the Compute Engine API client used by preflight and describe
func WithInspector(inspector Inspector) Option {
	return func(p *Provisioner) {
		p.inspector = inspector
	}
}

// WithPreflight makes Provision check that the source machine image exists
// before running gcloud. Requires an inspector.
func WithPreflight(enabled bool) Option {
	return func(p *Provisioner) {
		p.preflight = enabled
	}
}

// WithDescribe makes Provision log the created instance's details. Requires an inspector.
func WithDescribe(enabled bool) Option {
	return func(p *Provisioner) {
		p.describe = enabled
	}
}

// NewProvisioner creates a new Provisioner
func NewProvisioner(logger *zap.Logger, runner Runner, opts ...Option) *Provisioner {
	p := &Provisioner{
		logger: logger,
		runner: runner,
		binary: DefaultBinary,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Plan validates the request and returns the command Provision would run
func (p *Provisioner) Plan(req ProvisionRequest) ([]string, error) {
	validated, err := p.validate(req.WithDefaults())
	if err != nil {
		return nil, err
	}
	return BuildCommand(p.binary, validated), nil
}

// Provision validates the request and creates the instance. The command is
// run exactly once.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) error {
	validated, err := p.validate(req.WithDefaults())
	if err != nil {
		return err
	}

	if p.preflight {
		if err := p.checkSourceImage(ctx, validated); err != nil {
			return err
		}
	}

	if err := p.logAndExecute(ctx, validated); err != nil {
		return err
	}

	if p.describe {
		p.describeInstance(ctx, validated)
	}
	return nil
}

func (p *Provisioner) validate(req ProvisionRequest) (ProvisionRequest, error) {
	validated, err := Validate(req)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			p.logger.Error("Input validation failed",
				zap.String("field", vErr.Field),
				zap.Error(err))
		}
		return validated, err
	}

	p.logger.Info("Input validation passed",
		zap.String("instance", validated.InstanceName),
		zap.String("project", validated.Project),
		zap.String("zone", validated.Zone))
	return validated, nil
}

func (p *Provisioner) logAndExecute(ctx context.Context, req ProvisionRequest) error {
	command := BuildCommand(p.binary, req)

	p.logger.Info("Executing create instance",
		zap.String("instance", req.InstanceName),
		zap.String("project", req.Project),
		zap.String("zone", req.Zone),
		zap.String("source_image", req.SourceImage),
		zap.String("service_account", req.ServiceAccount),
		zap.String("subnet", req.Subnet))
	p.logger.Info("Running command", zap.String("command", strings.Join(command, " ")))

	if err := p.runner.Run(ctx, command); err != nil {
		fields := []zap.Field{zap.String("instance", req.InstanceName), zap.Error(err)}
		var cmdErr *ExternalCommandError
		if errors.As(err, &cmdErr) {
			fields = append(fields,
				zap.Int("exit_code", cmdErr.ExitCode),
				zap.String("stderr", logging.Truncate(cmdErr.Stderr)))
		}
		p.logger.Error("Error occurred while creating instance", fields...)
		return err
	}

	p.logger.Info("Instance created successfully", zap.String("instance", req.InstanceName))
	p.logger.Info("Completed create instance", zap.String("instance", req.InstanceName))
	return nil
}

func (p *Provisioner) checkSourceImage(ctx context.Context, req ProvisionRequest) error {
	if p.inspector == nil {
		return fmt.Errorf("preflight requires a compute inspector")
	}

	p.logger.Info("Checking source machine image", zap.String("source_image", req.SourceImage))
	if err := p.inspector.CheckMachineImage(ctx, req.Project, req.SourceImage); err != nil {
		p.logger.Error("Source machine image check failed",
			zap.String("source_image", req.SourceImage),
			zap.Error(err))
		return fmt.Errorf("preflight failed: %w", err)
	}
	return nil
}

func (p *Provisioner) describeInstance(ctx context.Context, req ProvisionRequest) {
	if p.inspector == nil {
		p.logger.Warn("Describe requested without a compute inspector, skipping")
		return
	}

	info, err := p.inspector.Instance(ctx, req.Project, req.Zone, req.InstanceName)
	if err != nil {
		// The instance exists at this point; a failed lookup is not a failed create.
		p.logger.Warn("Failed to describe instance",
			zap.String("instance", req.InstanceName),
			zap.Error(err))
		return
	}

	p.logger.Info("Instance details",
		zap.String("id", info.ID),
		zap.String("name", info.Name),
		zap.String("zone", info.Zone),
		zap.String("status", info.Status),
		zap.String("machine_type", info.MachineType),
		zap.String("internal_ip", info.InternalIP),
		zap.String("external_ip", info.ExternalIP))
}
