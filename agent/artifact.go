package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/perimeterlabs/iapgw/metrics"
)

// InstallArtifact makes sure the binary at destPath matches the pinned
// SHA-256, downloading it from rawURL when missing or stale. Supported
// schemes: https, http, s3 (s3://bucket/key?region=r&endpoint=e), file.
// Returns whether the binary was (re)installed.
func InstallArtifact(ctx context.Context, rawURL, sha256Hex, destPath string) (bool, error) {
	sha256Hex = strings.ToLower(sha256Hex)

	current, err := fileSHA256(destPath)
	if err != nil {
		return false, fmt.Errorf("hashing installed artifact: %w", err)
	}
	if current == sha256Hex {
		return false, nil
	}

	body, err := openArtifact(ctx, rawURL)
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues("error").Inc()
		return false, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return false, fmt.Errorf("creating artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".artifact-*")
	if err != nil {
		return false, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), body); err != nil {
		tmp.Close()
		metrics.ArtifactDownloads.WithLabelValues("error").Inc()
		return false, fmt.Errorf("downloading artifact: %w", err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if got != sha256Hex {
		tmp.Close()
		metrics.ArtifactDownloads.WithLabelValues("checksum_mismatch").Inc()
		return false, fmt.Errorf("artifact checksum mismatch: got %s, want %s", got, sha256Hex)
	}

	if err := tmp.Chmod(0755); err != nil {
		tmp.Close()
		return false, fmt.Errorf("setting artifact mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return false, fmt.Errorf("installing artifact: %w", err)
	}

	metrics.ArtifactDownloads.WithLabelValues("ok").Inc()
	return true, nil
}

// fileSHA256 hashes an existing file; a missing file hashes to "".
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func openArtifact(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing artifact URL: %w", err)
	}

	switch u.Scheme {
	case "https", "http":
		return openHTTP(ctx, rawURL)
	case "s3":
		return openS3(ctx, u)
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, fmt.Errorf("opening artifact file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported artifact scheme %q", u.Scheme)
	}
}

func openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching artifact: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// openS3 streams s3://bucket/key?region=r&endpoint=e. Works against any
// S3-compatible endpoint, including GCS interop.
func openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 URL needs bucket and key: %s", u)
	}

	cfg := aws.Config{
		Region: aws.String(u.Query().Get("region")),
	}
	if cfg.Region == nil || *cfg.Region == "" {
		cfg.Region = aws.String("us-east-1")
	}
	if endpoint := u.Query().Get("endpoint"); endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	result, err := s3.New(sess).GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	return result.Body, nil
}
