package provisioning

import (
	"fmt"
	"unicode/utf8"
)

const (
	// DefaultZone is used when no zone is given
	DefaultZone = "us-central1-b"

	// MaxInstanceNameLength is the longest instance name Compute Engine accepts
	MaxInstanceNameLength = 63
)

// ProvisionRequest holds the parameters for creating a single instance
type ProvisionRequest struct {
	InstanceName   string
	Project        string
	Zone           string
	SourceImage    string // machine image URI (gcloud compute machine-images list --uri)
	ServiceAccount string
	Subnet         string
}

// WithDefaults returns a copy of the request with an empty zone set to DefaultZone
func (r ProvisionRequest) WithDefaults() ProvisionRequest {
	if r.Zone == "" {
		r.Zone = DefaultZone
	}
	return r
}

// ValidationError is returned when a request field is missing or out of range
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks that every field of the request is populated and within
// constraints. The request is returned unchanged on success.
func Validate(req ProvisionRequest) (ProvisionRequest, error) {
	if req.InstanceName == "" || utf8.RuneCountInString(req.InstanceName) > MaxInstanceNameLength {
		return req, &ValidationError{
			Field:   "instance_name",
			Message: fmt.Sprintf("instance name must be non-empty and no longer than %d characters", MaxInstanceNameLength),
		}
	}

	required := []struct {
		field   string
		value   string
		message string
	}{
		{"project", req.Project, "project ID is required"},
		{"zone", req.Zone, "zone is required"},
		{"source_image", req.SourceImage, "source image URI is required"},
		{"service_account", req.ServiceAccount, "service account email is required"},
		{"subnet", req.Subnet, "subnet is required"},
	}
	for _, r := range required {
		if r.value == "" {
			return req, &ValidationError{Field: r.field, Message: r.message}
		}
	}

	return req, nil
}
