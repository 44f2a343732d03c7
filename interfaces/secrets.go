package interfaces

import "context"

// SecretStore provides named secret storage for a single deployment.
type SecretStore interface {
	// List returns the names of all secrets belonging to the deployment.
	List(ctx context.Context) ([]SecretName, error)

	// Fetch retrieves the current value of a secret.
	// Returns ErrSecretNotFound if the secret or its value does not exist.
	Fetch(ctx context.Context, name SecretName) ([]byte, error)

	// Put creates the secret if needed and writes a new value.
	Put(ctx context.Context, name SecretName, value []byte) error

	// Delete removes the secret and all its versions.
	// Deleting a missing secret is not an error.
	Delete(ctx context.Context, name SecretName) error

	// Available checks if the store is reachable.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this store.
	LocationURI() string
}

// SecretStoreFactory creates secret stores from location URIs.
type SecretStoreFactory interface {
	// StoreFor creates a store from a parsed URI.
	// Supports gcpsm://, vault://, file://
	StoreFor(ctx context.Context, loc StoreLocation) (SecretStore, error)
}
