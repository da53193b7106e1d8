package originauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_ParsesEntries(t *testing.T) {
	svc, err := NewService([]string{"cdn.example.com=Bearer:abc123"})
	require.NoError(t, err)

	cred, found := svc.CredentialFor("cdn.example.com")
	require.True(t, found)
	assert.Equal(t, "Bearer abc123", cred.AuthorizationHeader())
}

func TestNewService_UnknownOriginNotFound(t *testing.T) {
	svc, err := NewService(nil)
	require.NoError(t, err)

	_, found := svc.CredentialFor("nowhere.example.com")
	assert.False(t, found)
}

func TestNewService_RejectsMalformedEntry(t *testing.T) {
	_, err := NewService([]string{"cdn.example.com-only-origin"})
	assert.Error(t, err)
}

func TestNewService_RejectsDuplicateOrigin(t *testing.T) {
	_, err := NewService([]string{
		"cdn.example.com=Bearer:abc",
		"cdn.example.com=Basic:def",
	})
	assert.Error(t, err)
}
