package provisioning

// DefaultBinary is the gcloud executable looked up on PATH
const DefaultBinary = "gcloud"

// BuildCommand returns the gcloud invocation that creates the requested
// instance. The token order is fixed.
func BuildCommand(binary string, req ProvisionRequest) []string {
	return []string{
		binary, "compute", "instances", "create", req.InstanceName,
		"--project=" + req.Project,
		"--zone=" + req.Zone,
		"--source-machine-image=" + req.SourceImage,
		"--service-account=" + req.ServiceAccount,
		"--subnet=" + req.Subnet,
	}
}
