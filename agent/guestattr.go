package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcemetadata "cloud.google.com/go/compute/metadata"
)

const defaultMetadataEndpoint = "http://metadata.google.internal"

// GuestAttributePublisher writes instance guest attributes through the
// metadata server. The provisioner polls these from the outside, so they
// work before any firewall or tunnel is usable.
type GuestAttributePublisher struct {
	endpoint string
	client   *http.Client
}

// NewGuestAttributePublisher targets the GCE metadata server. A non-empty
// endpoint overrides it for tests.
func NewGuestAttributePublisher(endpoint string) *GuestAttributePublisher {
	if endpoint == "" {
		endpoint = defaultMetadataEndpoint
	}
	return &GuestAttributePublisher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// OnGCE reports whether we are running on a GCE instance at all.
func (p *GuestAttributePublisher) OnGCE() bool {
	return gcemetadata.OnGCE()
}

// Publish sets one guest attribute under the given namespace.
func (p *GuestAttributePublisher) Publish(ctx context.Context, namespace, key, value string) error {
	target := fmt.Sprintf("%s/computeMetadata/v1/instance/guest-attributes/%s/%s",
		p.endpoint, url.PathEscape(namespace), url.PathEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, strings.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publishing guest attribute %s/%s: %w", namespace, key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publishing guest attribute %s/%s: unexpected status %s", namespace, key, resp.Status)
	}
	return nil
}
