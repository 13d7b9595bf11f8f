package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRemoteSpec(t *testing.T) {
	remote := []string{
		"user@host:/path/to/log",
		"user@host:/var/log/app.log",
		"admin@192.168.1.1:/logs/error.log",
		"user@host:22:/path/to/log",
		"ssh://user@host:2222/path/to/log",
	}
	for _, spec := range remote {
		assert.True(t, IsRemoteSpec(spec), "spec %q", spec)
	}

	local := []string{
		"/path/to/local/file",
		`C:\Windows\logs\app.log`,
		"./relative/path.log",
		"http://example.com/log",
		"file:///path/to/log",
	}
	for _, spec := range local {
		assert.False(t, IsRemoteSpec(spec), "spec %q", spec)
	}
}

func TestParseRemoteDefaults(t *testing.T) {
	d, err := Parse("user@example.com:/var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, KindRemote, d.Kind)
	assert.Equal(t, "user", d.User)
	assert.Equal(t, "example.com", d.Host)
	assert.Equal(t, 22, d.Port)
	assert.Equal(t, "/var/log/app.log", d.Path)
}

func TestParseRemoteWithPort(t *testing.T) {
	d, err := Parse("admin@server.local:2222:/logs/error.log")
	require.NoError(t, err)
	assert.Equal(t, "admin", d.User)
	assert.Equal(t, "server.local", d.Host)
	assert.Equal(t, 2222, d.Port)
	assert.Equal(t, "/logs/error.log", d.Path)
}

func TestParseSSHURL(t *testing.T) {
	d, err := Parse("ssh://user@host:2222/path/to/log")
	require.NoError(t, err)
	assert.Equal(t, KindRemote, d.Kind)
	assert.Equal(t, 2222, d.Port)
	assert.Equal(t, "/path/to/log", d.Path)

	d, err = Parse("ssh://user@host/path/to/log")
	require.NoError(t, err)
	assert.Equal(t, 22, d.Port)
}

func TestParseLocal(t *testing.T) {
	d, err := Parse("/var/log/syslog")
	require.NoError(t, err)
	assert.Equal(t, KindLocal, d.Kind)
	assert.Equal(t, "/var/log/syslog", d.Path)
	assert.False(t, d.IsRemote())
}

func TestParseRejectsBadRemote(t *testing.T) {
	bad := []string{
		"",
		"ssh://user@host:99999/path",
		"ssh://@host/path",
		"ssh://user@host",
	}
	for _, spec := range bad {
		_, err := Parse(spec)
		require.Error(t, err, "spec %q", spec)
		assert.ErrorIs(t, err, ErrInvalidDescriptor, "spec %q", spec)
	}
}

func TestPoolKey(t *testing.T) {
	d, err := Parse("user@host:2200:/p")
	require.NoError(t, err)
	assert.Equal(t, "user@host:2200", d.PoolKey())
}
