package secrets

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/perimeterlabs/iapgw/interfaces"
	"github.com/perimeterlabs/iapgw/metrics"
)

// Materialize enumerates the store's secrets and fetches each value,
// returning env-key -> value entries ready for BuildEnvFile.
//
// Placeholder sentinel versions are skipped: they only reserve a name.
// A secret whose fetch fails is logged and skipped; the call fails only if
// secrets were expected and none could be fetched, so a single bad entry
// never blocks gateway startup.
func Materialize(ctx context.Context, store interfaces.SecretStore, log *slog.Logger) (map[string]string, error) {
	names, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing secrets from %s: %w", store.Name(), err)
	}

	entries := make(map[string]string, len(names))
	var fetchErrs int
	for _, name := range names {
		value, err := store.Fetch(ctx, name)
		if err != nil {
			metrics.SecretFetches.WithLabelValues("error").Inc()
			log.Warn("Skipping secret: fetch failed",
				slog.String("secret", name.String()), "err", err)
			fetchErrs++
			continue
		}
		if string(value) == interfaces.SentinelUnset {
			metrics.SecretFetches.WithLabelValues("sentinel").Inc()
			log.Debug("Skipping secret: placeholder value",
				slog.String("secret", name.String()))
			continue
		}

		key := name.EnvKey()
		if prev, dup := entries[key]; dup {
			log.Warn("Env key collision, keeping first value",
				slog.String("key", key),
				slog.String("secret", name.String()),
				slog.Int("previous_len", len(prev)))
			continue
		}
		metrics.SecretFetches.WithLabelValues("ok").Inc()
		entries[key] = string(value)
	}

	if len(names) > 0 && len(entries) == 0 && fetchErrs == len(names) {
		return nil, fmt.Errorf("no secret could be fetched from %s (%d failures)", store.Name(), fetchErrs)
	}
	return entries, nil
}
