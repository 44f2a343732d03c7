package gcp

import (
	"context"
	"fmt"
	"log/slog"

	compute "google.golang.org/api/compute/v1"
)

// NATConfig describes the Cloud Router and Cloud NAT pair giving the
// instance outbound connectivity without an external IP.
type NATConfig struct {
	RouterName string
	NATName    string
	Region     string
	Network    string // short network name
}

// EnsureNAT creates the Cloud Router with an attached NAT when absent, and
// attaches the NAT to an existing router that lacks it. An already-correct
// router is left untouched.
func (c *Connection) EnsureNAT(ctx context.Context, cfg NATConfig) (changed bool, err error) {
	nat := &compute.RouterNat{
		Name:                          cfg.NATName,
		NatIpAllocateOption:           "AUTO_ONLY",
		SourceSubnetworkIpRangesToNat: "ALL_SUBNETWORKS_ALL_IP_RANGES",
	}

	router, err := c.compute.Routers.Get(c.projectID, cfg.Region, cfg.RouterName).Context(ctx).Do()
	if IsNotFound(err) {
		spec := &compute.Router{
			Name:    cfg.RouterName,
			Network: "global/networks/" + cfg.Network,
			Nats:    []*compute.RouterNat{nat},
		}
		op, err := c.compute.Routers.Insert(c.projectID, cfg.Region, spec).Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("inserting router %s: %w", cfg.RouterName, err)
		}
		if err := c.waitRegionOp(ctx, cfg.Region, op.Name); err != nil {
			return false, err
		}
		c.log.Info("Cloud router and NAT created",
			slog.String("router", cfg.RouterName),
			slog.String("nat", cfg.NATName))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting router %s: %w", cfg.RouterName, err)
	}

	for _, existing := range router.Nats {
		if existing.Name == cfg.NATName {
			c.log.Debug("Cloud NAT up to date", slog.String("nat", cfg.NATName))
			return false, nil
		}
	}

	router.Nats = append(router.Nats, nat)
	op, err := c.compute.Routers.Patch(c.projectID, cfg.Region, cfg.RouterName, router).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("patching router %s: %w", cfg.RouterName, err)
	}
	if err := c.waitRegionOp(ctx, cfg.Region, op.Name); err != nil {
		return false, err
	}
	c.log.Info("Cloud NAT attached to existing router",
		slog.String("router", cfg.RouterName),
		slog.String("nat", cfg.NATName))
	return true, nil
}

// DeleteRouter removes the router (and its NATs). Missing is not an error.
func (c *Connection) DeleteRouter(ctx context.Context, region, name string) error {
	op, err := c.compute.Routers.Delete(c.projectID, region, name).Context(ctx).Do()
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting router %s: %w", name, err)
	}
	return c.waitRegionOp(ctx, region, op.Name)
}
