package gcp

import (
	"context"
	"fmt"
	"log/slog"

	compute "google.golang.org/api/compute/v1"
)

// Instance lifecycle states reported by the API.
const (
	StatusProvisioning = "PROVISIONING"
	StatusStaging      = "STAGING"
	StatusRunning      = "RUNNING"
	StatusStopping     = "STOPPING"
	StatusTerminated   = "TERMINATED"
)

// InstanceSpec describes the single gateway VM for a deployment. The
// instance gets no external IP: the only ingress path is the IAP tunnel and
// egress goes through Cloud NAT.
type InstanceSpec struct {
	Name        string
	Zone        string
	MachineType string
	Image       string // full source image URL or family link
	DiskSizeGB  int64
	Network     string // short network name
	Tag         string // network tag matching the firewall rule

	ServiceAccount string // email; "" selects the project default
	StartupScript  string
	SSHPublicKey   string // "user:ssh-ed25519 AAAA... comment" metadata form
	Labels         map[string]string
}

func (s InstanceSpec) spec() *compute.Instance {
	enableGuestAttrs := "TRUE"
	metadataItems := []*compute.MetadataItems{
		{Key: "enable-guest-attributes", Value: &enableGuestAttrs},
	}
	if s.StartupScript != "" {
		script := s.StartupScript
		metadataItems = append(metadataItems, &compute.MetadataItems{Key: "startup-script", Value: &script})
	}
	if s.SSHPublicKey != "" {
		keys := s.SSHPublicKey
		metadataItems = append(metadataItems, &compute.MetadataItems{Key: "ssh-keys", Value: &keys})
	}

	inst := &compute.Instance{
		Name:        s.Name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", s.Zone, s.MachineType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: s.Image,
				DiskSizeGb:  s.DiskSizeGB,
			},
		}},
		// No AccessConfigs: the instance never gets an external IP.
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: "global/networks/" + s.Network,
		}},
		Metadata: &compute.Metadata{Items: metadataItems},
		Tags:     &compute.Tags{Items: []string{s.Tag}},
		Labels:   s.Labels,
	}

	sa := &compute.ServiceAccount{Scopes: Scopes}
	if s.ServiceAccount != "" {
		sa.Email = s.ServiceAccount
	} else {
		sa.Email = "default"
	}
	inst.ServiceAccounts = []*compute.ServiceAccount{sa}

	return inst
}

// EnsureInstance creates the instance when absent. An existing instance is
// left untouched regardless of its shape: replacing a live gateway VM is an
// operator decision, not something a rerun should do implicitly.
func (c *Connection) EnsureInstance(ctx context.Context, spec InstanceSpec) (created bool, err error) {
	_, err = c.compute.Instances.Get(c.projectID, spec.Zone, spec.Name).Context(ctx).Do()
	if err == nil {
		c.log.Debug("Instance already exists", slog.String("instance", spec.Name))
		return false, nil
	}
	if !IsNotFound(err) {
		return false, fmt.Errorf("getting instance %s: %w", spec.Name, err)
	}

	op, err := c.compute.Instances.Insert(c.projectID, spec.Zone, spec.spec()).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("inserting instance %s: %w", spec.Name, err)
	}
	if err := c.waitZoneOp(ctx, spec.Zone, op.Name); err != nil {
		return false, err
	}
	c.log.Info("Instance created",
		slog.String("instance", spec.Name),
		slog.String("zone", spec.Zone),
		slog.String("machineType", spec.MachineType))
	return true, nil
}

// InstanceStatus returns the lifecycle state of the instance.
// Returns ("", nil) when the instance does not exist.
func (c *Connection) InstanceStatus(ctx context.Context, zone, name string) (string, error) {
	inst, err := c.compute.Instances.Get(c.projectID, zone, name).Context(ctx).Do()
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting instance %s: %w", name, err)
	}
	return inst.Status, nil
}

// DeleteInstance removes the instance. Missing is not an error.
func (c *Connection) DeleteInstance(ctx context.Context, zone, name string) error {
	op, err := c.compute.Instances.Delete(c.projectID, zone, name).Context(ctx).Do()
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting instance %s: %w", name, err)
	}
	return c.waitZoneOp(ctx, zone, op.Name)
}

// GuestAttribute reads a single guest attribute published by the instance,
// e.g. namespace "iapgw", key "ready". Returns ErrSecret-style ("", nil)
// when the attribute has not been written yet.
func (c *Connection) GuestAttribute(ctx context.Context, zone, name, namespace, key string) (string, error) {
	attrs, err := c.compute.Instances.GetGuestAttributes(c.projectID, zone, name).
		VariableKey(namespace + "/" + key).
		Context(ctx).Do()
	if IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading guest attribute %s/%s: %w", namespace, key, err)
	}
	if attrs.VariableValue != "" {
		return attrs.VariableValue, nil
	}
	if attrs.QueryValue != nil {
		for _, item := range attrs.QueryValue.Items {
			if item.Namespace == namespace && item.Key == key {
				return item.Value, nil
			}
		}
	}
	return "", nil
}
