package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Permissions the caller needs on the project before the pipeline can run.
// Checked up front so the operator gets one actionable report instead of a
// mid-pipeline 403.
var requiredPermissions = []string{
	"compute.instances.create",
	"compute.instances.delete",
	"compute.instances.get",
	"compute.firewalls.create",
	"compute.firewalls.get",
	"compute.routers.create",
	"compute.routers.get",
	"secretmanager.secrets.create",
	"secretmanager.versions.access",
	"resourcemanager.projects.getIamPolicy",
	"resourcemanager.projects.setIamPolicy",
	"serviceusage.services.enable",
}

func (p *Provisioner) stepPreflight(ctx context.Context) (bool, error) {
	missing, err := p.Cloud.TestPermissions(ctx, requiredPermissions)
	if err != nil {
		return false, fmt.Errorf("testing permissions: %w", err)
	}
	if len(missing) > 0 {
		p.Log.Error("Caller is missing project permissions",
			slog.String("project", p.Manifest.Project),
			slog.String("missing", strings.Join(missing, ", ")))
		return false, &MissingPermissionsError{
			Project: p.Manifest.Project,
			Missing: missing,
		}
	}
	return false, nil
}

// MissingPermissionsError reports which permissions the preflight check found
// absent, with a remediation hint.
type MissingPermissionsError struct {
	Project string
	Missing []string
}

func (e *MissingPermissionsError) Error() string {
	return fmt.Sprintf(
		"missing %d permission(s) on project %s: %s (ask an owner to run: gcloud projects add-iam-policy-binding %s --member=user:YOU --role=roles/editor)",
		len(e.Missing), e.Project, strings.Join(e.Missing, ", "), e.Project)
}
