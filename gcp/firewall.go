package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	compute "google.golang.org/api/compute/v1"
)

// IAPSourceRange is the published source range of the IAP TCP forwarding
// service. Ingress from this range is the only path into the instance.
const IAPSourceRange = "35.235.240.0/20"

// FirewallRule describes an ingress allow rule for the deployment.
type FirewallRule struct {
	Name      string
	Network   string // short network name, e.g. "default"
	TargetTag string
	Ports     []string // tcp ports, e.g. "22", "8443"
}

func (r FirewallRule) spec() *compute.Firewall {
	return &compute.Firewall{
		Name:         r.Name,
		Network:      "global/networks/" + r.Network,
		Direction:    "INGRESS",
		SourceRanges: []string{IAPSourceRange},
		TargetTags:   []string{r.TargetTag},
		Allowed: []*compute.FirewallAllowed{{
			IPProtocol: "tcp",
			Ports:      r.Ports,
		}},
	}
}

// EnsureFirewall creates the IAP ingress rule if it does not exist, or
// updates it in place when its allowed ports, source ranges or target tags
// have drifted. The call blocks until the change is applied.
func (c *Connection) EnsureFirewall(ctx context.Context, rule FirewallRule) (changed bool, err error) {
	want := rule.spec()

	existing, err := c.compute.Firewalls.Get(c.projectID, rule.Name).Context(ctx).Do()
	if IsNotFound(err) {
		op, err := c.compute.Firewalls.Insert(c.projectID, want).Context(ctx).Do()
		if err != nil {
			return false, fmt.Errorf("inserting firewall %s: %w", rule.Name, err)
		}
		if err := c.waitGlobalOp(ctx, op.Name); err != nil {
			return false, err
		}
		c.log.Info("Firewall rule created", slog.String("firewall", rule.Name))
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting firewall %s: %w", rule.Name, err)
	}

	if firewallMatches(existing, want) {
		c.log.Debug("Firewall rule up to date", slog.String("firewall", rule.Name))
		return false, nil
	}

	op, err := c.compute.Firewalls.Update(c.projectID, rule.Name, want).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("updating firewall %s: %w", rule.Name, err)
	}
	if err := c.waitGlobalOp(ctx, op.Name); err != nil {
		return false, err
	}
	c.log.Info("Firewall rule updated", slog.String("firewall", rule.Name))
	return true, nil
}

// DeleteFirewall removes the named rule. A missing rule is not an error.
func (c *Connection) DeleteFirewall(ctx context.Context, name string) error {
	op, err := c.compute.Firewalls.Delete(c.projectID, name).Context(ctx).Do()
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting firewall %s: %w", name, err)
	}
	return c.waitGlobalOp(ctx, op.Name)
}

func firewallMatches(got, want *compute.Firewall) bool {
	if got.Direction != want.Direction {
		return false
	}
	if !slices.Equal(got.SourceRanges, want.SourceRanges) {
		return false
	}
	if !slices.Equal(got.TargetTags, want.TargetTags) {
		return false
	}
	if len(got.Allowed) != len(want.Allowed) {
		return false
	}
	for i, allowed := range want.Allowed {
		if got.Allowed[i].IPProtocol != allowed.IPProtocol {
			return false
		}
		gotPorts := slices.Clone(got.Allowed[i].Ports)
		wantPorts := slices.Clone(allowed.Ports)
		slices.Sort(gotPorts)
		slices.Sort(wantPorts)
		if !slices.Equal(gotPorts, wantPorts) {
			return false
		}
	}
	return true
}
