package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrMachineImageNotFound is returned by CheckMachineImage when the image does not exist
var ErrMachineImageNotFound = errors.New("machine image not found")

// InstanceInfo contains information about a created VM
type InstanceInfo struct {
	ID          string
	Name        string
	Zone        string
	Status      string
	MachineType string
	InternalIP  string
	ExternalIP  string
}

// Inspector performs read-only lookups against the Compute Engine API
type Inspector interface {
	CheckMachineImage(ctx context.Context, project, ref string) error
	Instance(ctx context.Context, project, zone, name string) (*InstanceInfo, error)
}

// GCPInspector implements Inspector using the Compute Engine REST API
type GCPInspector struct {
	service *compute.Service
}

// NewGCPInspector creates a GCPInspector. Application default credentials are
// used unless credentialsFile is set.
func NewGCPInspector(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*GCPInspector, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	return &GCPInspector{service: service}, nil
}

// CheckMachineImage verifies that the machine image referenced by ref exists.
// ref may be a bare name (resolved in project), a projects/.../machineImages/...
// path or a full URL.
func (g *GCPInspector) CheckMachineImage(ctx context.Context, project, ref string) error {
	imageProject, name := parseMachineImageRef(project, ref)

	_, err := g.service.MachineImages.Get(imageProject, name).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return fmt.Errorf("%w: %s/%s", ErrMachineImageNotFound, imageProject, name)
		}
		return fmt.Errorf("failed to get machine image: %w", err)
	}
	return nil
}

// Instance fetches the current state of an instance
func (g *GCPInspector) Instance(ctx context.Context, project, zone, name string) (*InstanceInfo, error) {
	instance, err := g.service.Instances.Get(project, zone, name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	info := &InstanceInfo{
		ID:          fmt.Sprintf("%d", instance.Id),
		Name:        instance.Name,
		Zone:        path.Base(instance.Zone),
		Status:      instance.Status,
		MachineType: path.Base(instance.MachineType),
	}
	if len(instance.NetworkInterfaces) > 0 {
		nic := instance.NetworkInterfaces[0]
		info.InternalIP = nic.NetworkIP
		if len(nic.AccessConfigs) > 0 {
			info.ExternalIP = nic.AccessConfigs[0].NatIP
		}
	}

	return info, nil
}

// parseMachineImageRef splits a machine image reference into project and name
func parseMachineImageRef(defaultProject, ref string) (string, string) {
	if !strings.Contains(ref, "/machineImages/") {
		return defaultProject, ref
	}

	project := defaultProject
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "projects" {
			project = parts[i+1]
			break
		}
	}
	return project, parts[len(parts)-1]
}
