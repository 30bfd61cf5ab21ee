// Package vault defines the credential vault contract the engine consumes.
// The real vault lives outside this module; the engine only retrieves
// decrypted credentials by connection id.
package vault

import (
	"context"

	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
)

// Credentials is the opaque decrypted credential map for one connection.
type Credentials map[string]any

// String returns a string credential value, or empty when absent.
func (c Credentials) String(key string) string {
	v, _ := c[key].(string)

	return v
}

// Vault retrieves decrypted credentials for connector connections.
type Vault interface {
	Retrieve(ctx context.Context, connectionID string) (Credentials, error)
}

// Static is an in-memory vault keyed by connection id, used for tests and
// local development.
type Static struct {
	credentials map[string]Credentials
}

// NewStatic creates a static vault from a fixed credential set.
func NewStatic(credentials map[string]Credentials) *Static {
	if credentials == nil {
		credentials = make(map[string]Credentials)
	}

	return &Static{credentials: credentials}
}

// Retrieve returns the credentials for the connection, or
// CredentialNotFoundError when the connection is unknown.
func (s *Static) Retrieve(_ context.Context, connectionID string) (Credentials, error) {
	creds, ok := s.credentials[connectionID]
	if !ok {
		return nil, &flowerr.CredentialNotFoundError{ConnectionID: connectionID}
	}

	return creds, nil
}

// Store registers credentials for a connection.
func (s *Static) Store(connectionID string, creds Credentials) {
	s.credentials[connectionID] = creds
}
