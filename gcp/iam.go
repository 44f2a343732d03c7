package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"google.golang.org/api/cloudresourcemanager/v1"
)

// Roles granted by the provisioner.
const (
	RoleTunnelAccessor = "roles/iap.tunnelResourceAccessor"
	RoleSecretAccessor = "roles/secretmanager.secretAccessor"
	RoleLogWriter      = "roles/logging.logWriter"
	RoleMetricWriter   = "roles/monitoring.metricWriter"
)

// TestPermissions returns the subset of perms the caller is missing on the
// project.
func (c *Connection) TestPermissions(ctx context.Context, perms []string) (missing []string, err error) {
	resp, err := c.crm.Projects.TestIamPermissions(c.projectID, &cloudresourcemanager.TestIamPermissionsRequest{
		Permissions: perms,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("testing permissions on project %s: %w", c.projectID, err)
	}

	for _, p := range perms {
		if !slices.Contains(resp.Permissions, p) {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// EnsureBinding grants role to member on the project if not already bound.
// The policy write uses the etag returned by the read; a single stale-etag
// conflict is retried with a fresh read.
func (c *Connection) EnsureBinding(ctx context.Context, role, member string) (changed bool, err error) {
	for attempt := 0; ; attempt++ {
		changed, err = c.ensureBindingOnce(ctx, role, member)
		if err != nil && IsConflict(err) && attempt == 0 {
			c.log.Debug("IAM policy etag conflict, retrying",
				slog.String("role", role), slog.String("member", member))
			continue
		}
		return changed, err
	}
}

func (c *Connection) ensureBindingOnce(ctx context.Context, role, member string) (bool, error) {
	policy, err := c.crm.Projects.GetIamPolicy(c.projectID, &cloudresourcemanager.GetIamPolicyRequest{}).
		Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("getting IAM policy for project %s: %w", c.projectID, err)
	}

	var binding *cloudresourcemanager.Binding
	for _, b := range policy.Bindings {
		if b.Role == role {
			binding = b
			break
		}
	}
	if binding == nil {
		binding = &cloudresourcemanager.Binding{Role: role}
		policy.Bindings = append(policy.Bindings, binding)
	}

	if slices.Contains(binding.Members, member) {
		c.log.Debug("IAM binding already present",
			slog.String("role", role), slog.String("member", member))
		return false, nil
	}
	binding.Members = append(binding.Members, member)

	_, err = c.crm.Projects.SetIamPolicy(c.projectID, &cloudresourcemanager.SetIamPolicyRequest{
		Policy: policy,
	}).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("setting IAM policy for project %s: %w", c.projectID, err)
	}

	c.log.Info("IAM binding granted",
		slog.String("role", role), slog.String("member", member))
	return true, nil
}
