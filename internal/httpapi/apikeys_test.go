package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskAPIKey(t *testing.T) {
	require.Equal(t, "sk-ant-p****", MaskAPIKey("sk-ant-p-abcdef1234567890"))
	require.Equal(t, "********", MaskAPIKey("shortkey"))
	require.Equal(t, "***", MaskAPIKey("abc"))
	require.Equal(t, "", MaskAPIKey(""))
}

func TestAPIKeyAuthorizer(t *testing.T) {
	auth := NewAPIKeyAuthorizer("admin-key", "plain-key")

	id, ok := auth.Authorize("admin-key")
	require.True(t, ok)
	require.Equal(t, "admin", id)
	require.True(t, auth.HasPermission("admin-key", "admin:mint"))
	require.True(t, auth.HasPermission("admin-key", "admin:burn"))

	id, ok = auth.Authorize("plain-key")
	require.True(t, ok)
	require.Equal(t, "default", id)
	require.False(t, auth.HasPermission("plain-key", "admin:mint"))

	_, ok = auth.Authorize("unknown-key")
	require.False(t, ok)
}
