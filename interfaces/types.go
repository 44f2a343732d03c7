package interfaces

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// SentinelUnset is the placeholder version written when a secret is first
// created by the provisioner. The boot agent never emits it into the
// environment file; it only reserves the secret's name so operators can fill
// in the real value later.
const SentinelUnset = "__unset__"

var secretNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// SecretName identifies a secret within a deployment's secret store.
// Names are restricted to the character set accepted by Secret Manager
// secret IDs so the same name is valid across all backends.
type SecretName string

// NewSecretName validates and returns a secret name.
func NewSecretName(s string) (SecretName, error) {
	if !secretNameRe.MatchString(s) {
		return "", fmt.Errorf("invalid secret name %q: must match %s", s, secretNameRe.String())
	}
	return SecretName(s), nil
}

// String returns the raw name.
func (n SecretName) String() string { return string(n) }

// EnvKey returns the environment variable key for this secret: uppercased,
// with every character outside [A-Z0-9_] replaced by an underscore. A key
// that would begin with a digit is prefixed with an underscore.
func (n SecretName) EnvKey() string {
	key := strings.ToUpper(string(n))
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	if key != "" && key[0] >= '0' && key[0] <= '9' {
		key = "_" + key
	}
	return key
}

// StoreLocation is a parsed secret-store URI.
//
// Supported forms:
//
//	gcpsm://<project>?label=<deployment>
//	vault://<host:port>/<mount>/<path>
//	file:///<directory>
type StoreLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
}

// NewStoreLocation parses and validates a secret-store URI.
func NewStoreLocation(uri string) (StoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "gcpsm", "vault", "file":
	default:
		return StoreLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return StoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
	}, nil
}

// String returns the original URI.
func (loc StoreLocation) String() string { return loc.Raw }

// GetParam returns a query parameter value.
func (loc StoreLocation) GetParam(name string) string { return loc.Query.Get(name) }

var (
	// ErrSecretNotFound is returned when a named secret does not exist in
	// the store.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrStoreUnavailable is returned when the secret store cannot be
	// reached. Callers treat this as retryable.
	ErrStoreUnavailable = errors.New("secret store unavailable")

	// ErrInvalidLocationURI is returned for malformed or unsupported
	// secret-store URIs.
	ErrInvalidLocationURI = errors.New("invalid secret store URI")
)
