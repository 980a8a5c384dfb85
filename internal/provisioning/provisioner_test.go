package provisioning_test

import (
	"context"
	"errors"

	"vmcarrier/internal/provisioning"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRunner records the commands it is asked to run
type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.calls = append(f.calls, append([]string(nil), args...))
	return f.err
}

// fakeInspector answers Compute Engine lookups from fixed values
type fakeInspector struct {
	imageErr    error
	instance    *provisioning.InstanceInfo
	instanceErr error
	imageChecks []string
}

func (f *fakeInspector) CheckMachineImage(_ context.Context, project, ref string) error {
	f.imageChecks = append(f.imageChecks, project+"|"+ref)
	return f.imageErr
}

func (f *fakeInspector) Instance(_ context.Context, _, _, _ string) (*provisioning.InstanceInfo, error) {
	return f.instance, f.instanceErr
}

var _ = Describe("Provisioner", func() {
	var (
		ctx    context.Context
		runner *fakeRunner
		logs   *observer.ObservedLogs
		logger *zap.Logger
		req    provisioning.ProvisionRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		runner = &fakeRunner{}

		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		logger = zap.New(core)

		req = provisioning.ProvisionRequest{
			InstanceName:   "vm1",
			Project:        "proj",
			SourceImage:    "img-uri",
			ServiceAccount: "sa@proj.iam.gserviceaccount.com",
			Subnet:         "subnet-1",
		}
	})

	Context("when the zone is omitted", func() {
		It("defaults to us-central1-b and runs the command once", func() {
			p := provisioning.NewProvisioner(logger, runner)

			Expect(p.Provision(ctx, req)).To(Succeed())
			Expect(runner.calls).To(HaveLen(1))
			Expect(runner.calls[0]).To(Equal([]string{
				"gcloud", "compute", "instances", "create", "vm1",
				"--project=proj",
				"--zone=us-central1-b",
				"--source-machine-image=img-uri",
				"--service-account=sa@proj.iam.gserviceaccount.com",
				"--subnet=subnet-1",
			}))
		})
	})

	Context("when the instance name is empty", func() {
		It("fails validation without running anything", func() {
			req.InstanceName = ""
			p := provisioning.NewProvisioner(logger, runner)

			err := p.Provision(ctx, req)

			var vErr *provisioning.ValidationError
			Expect(errors.As(err, &vErr)).To(BeTrue())
			Expect(vErr.Field).To(Equal("instance_name"))
			Expect(runner.calls).To(BeEmpty())
			Expect(logs.FilterMessage("Input validation failed").Len()).To(Equal(1))
		})
	})

	DescribeTable("rejects a missing required field before running anything",
		func(mutate func(*provisioning.ProvisionRequest), field string) {
			mutate(&req)
			p := provisioning.NewProvisioner(logger, runner)

			err := p.Provision(ctx, req)

			var vErr *provisioning.ValidationError
			Expect(errors.As(err, &vErr)).To(BeTrue())
			Expect(vErr.Field).To(Equal(field))
			Expect(runner.calls).To(BeEmpty())
		},
		Entry("project", func(r *provisioning.ProvisionRequest) { r.Project = "" }, "project"),
		Entry("source image", func(r *provisioning.ProvisionRequest) { r.SourceImage = "" }, "source_image"),
		Entry("service account", func(r *provisioning.ProvisionRequest) { r.ServiceAccount = "" }, "service_account"),
		Entry("subnet", func(r *provisioning.ProvisionRequest) { r.Subnet = "" }, "subnet"),
	)

	Context("when the external command exits non-zero", func() {
		It("propagates the exit status without retrying", func() {
			runner.err = &provisioning.ExternalCommandError{
				ExitCode: 1,
				Command:  []string{"gcloud"},
				Stderr:   "ERROR: (gcloud.compute.instances.create) already exists",
			}
			p := provisioning.NewProvisioner(logger, runner)

			err := p.Provision(ctx, req)

			var cmdErr *provisioning.ExternalCommandError
			Expect(errors.As(err, &cmdErr)).To(BeTrue())
			Expect(cmdErr.ExitCode).To(Equal(1))
			Expect(runner.calls).To(HaveLen(1))

			failures := logs.FilterMessage("Error occurred while creating instance").All()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].ContextMap()).To(HaveKeyWithValue("exit_code", int64(1)))
			Expect(logs.FilterMessage("Instance created successfully").Len()).To(BeZero())
		})
	})

	Context("when the external command succeeds", func() {
		It("returns no error and logs the run", func() {
			p := provisioning.NewProvisioner(logger, runner, provisioning.WithBinary("/usr/local/bin/gcloud"))

			Expect(p.Provision(ctx, req)).To(Succeed())
			Expect(runner.calls[0][0]).To(Equal("/usr/local/bin/gcloud"))

			Expect(logs.FilterMessage("Input validation passed").Len()).To(Equal(1))
			Expect(logs.FilterMessage("Running command").Len()).To(Equal(1))
			Expect(logs.FilterMessage("Instance created successfully").Len()).To(Equal(1))
			Expect(logs.FilterMessage("Completed create instance").Len()).To(Equal(1))
		})
	})

	Describe("Plan", func() {
		It("returns the command without running it", func() {
			p := provisioning.NewProvisioner(logger, runner)

			command, err := p.Plan(req)

			Expect(err).NotTo(HaveOccurred())
			Expect(command).To(ContainElement("--zone=us-central1-b"))
			Expect(runner.calls).To(BeEmpty())
		})

		It("reports validation errors", func() {
			req.Subnet = ""
			p := provisioning.NewProvisioner(logger, runner)

			_, err := p.Plan(req)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("preflight", func() {
		It("checks the machine image before running gcloud", func() {
			inspector := &fakeInspector{}
			p := provisioning.NewProvisioner(logger, runner,
				provisioning.WithInspector(inspector),
				provisioning.WithPreflight(true))

			Expect(p.Provision(ctx, req)).To(Succeed())
			Expect(inspector.imageChecks).To(Equal([]string{"proj|img-uri"}))
			Expect(runner.calls).To(HaveLen(1))
		})

		It("aborts before any cloud action when the image is missing", func() {
			inspector := &fakeInspector{imageErr: provisioning.ErrMachineImageNotFound}
			p := provisioning.NewProvisioner(logger, runner,
				provisioning.WithInspector(inspector),
				provisioning.WithPreflight(true))

			err := p.Provision(ctx, req)

			Expect(err).To(MatchError(provisioning.ErrMachineImageNotFound))
			Expect(runner.calls).To(BeEmpty())
		})

		It("fails without an inspector", func() {
			p := provisioning.NewProvisioner(logger, runner, provisioning.WithPreflight(true))

			Expect(p.Provision(ctx, req)).NotTo(Succeed())
			Expect(runner.calls).To(BeEmpty())
		})
	})

	Describe("describe", func() {
		It("logs the created instance", func() {
			inspector := &fakeInspector{instance: &provisioning.InstanceInfo{
				ID:         "42",
				Name:       "vm1",
				Status:     "RUNNING",
				ExternalIP: "34.1.2.3",
			}}
			p := provisioning.NewProvisioner(logger, runner,
				provisioning.WithInspector(inspector),
				provisioning.WithDescribe(true))

			Expect(p.Provision(ctx, req)).To(Succeed())

			details := logs.FilterMessage("Instance details").All()
			Expect(details).To(HaveLen(1))
			Expect(details[0].ContextMap()).To(HaveKeyWithValue("status", "RUNNING"))
		})

		It("does not fail the create when the lookup fails", func() {
			inspector := &fakeInspector{instanceErr: errors.New("permission denied")}
			p := provisioning.NewProvisioner(logger, runner,
				provisioning.WithInspector(inspector),
				provisioning.WithDescribe(true))

			Expect(p.Provision(ctx, req)).To(Succeed())
			Expect(logs.FilterMessage("Failed to describe instance").Len()).To(Equal(1))
		})
	})
})
