// Package originauth provides per-origin authentication credentials for
// the download manager's outbound requests, adapted from the teacher's
// channel-keyed decryption key service: the same "parse once at startup,
// serve lock-free reads" shape, repurposed from a `channel_id -> content
// key` map to a `host -> credential` map (e.g. a bearer token or
// basic-auth string an origin requires on its manifest/segment requests).
package originauth

import (
	"fmt"
	"strings"
)

// Credential is one origin's authentication material: an HTTP
// Authorization scheme (e.g. "Bearer", "Basic") and the value to send.
type Credential struct {
	Scheme string
	Value  string
}

// Service looks up the credential to attach for a given origin, keyed by
// its bare host (no scheme), set once at startup from configuration and safe for concurrent
// reads thereafter — the map is never mutated after NewService returns.
type Service struct {
	byOrigin map[string]Credential
}

// NewService builds a Service from a set of "origin=scheme:credential"
// entries, the configuration-file analogue of the teacher's "kid:key"
// per-channel entries.
func NewService(entries []string) (*Service, error) {
	byOrigin := make(map[string]Credential, len(entries))
	for _, entry := range entries {
		origin, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid origin auth entry %q: expected 'origin=scheme:credential'", entry)
		}
		scheme, credential, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid origin auth entry %q: expected 'origin=scheme:credential'", entry)
		}
		if _, exists := byOrigin[origin]; exists {
			return nil, fmt.Errorf("duplicate origin auth entry for origin: %s", origin)
		}
		byOrigin[origin] = Credential{Scheme: scheme, Value: credential}
	}

	return &Service{byOrigin: byOrigin}, nil
}

// CredentialFor retrieves the credential registered for origin, if any.
func (s *Service) CredentialFor(origin string) (Credential, bool) {
	cred, found := s.byOrigin[origin]
	return cred, found
}

// AuthorizationHeader formats the credential as an HTTP Authorization
// header value ("Bearer <token>", "Basic <creds>", ...).
func (c Credential) AuthorizationHeader() string {
	return c.Scheme + " " + c.Value
}
