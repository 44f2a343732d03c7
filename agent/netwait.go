package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/miekg/dns"
)

const metadataHost = "metadata.google.internal."

// WaitForNetwork blocks until DNS resolution works, probing the resolvers
// from resolvConf for the metadata service name. Early boot races the
// network coming up; everything after this needs working name resolution.
func WaitForNetwork(ctx context.Context, resolvConf string, log *slog.Logger) error {
	config, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return fmt.Errorf("reading %s: %w", resolvConf, err)
	}
	if len(config.Servers) == 0 {
		return fmt.Errorf("no nameservers in %s", resolvConf)
	}

	client := &dns.Client{Timeout: 2 * time.Second}
	backoff := 500 * time.Millisecond

	for {
		for _, server := range config.Servers {
			msg := new(dns.Msg)
			msg.SetQuestion(metadataHost, dns.TypeA)

			resp, _, err := client.ExchangeContext(ctx, msg, net.JoinHostPort(server, config.Port))
			if err == nil && resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
				log.Debug("Network is ready", slog.String("resolver", server))
				return nil
			}
			if err != nil {
				log.Debug("DNS probe failed", slog.String("resolver", server), "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("network did not become ready: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}
