package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glyph-ide/internal/domain"
)

func TestValidateURL_SchemeAllowlist(t *testing.T) {
	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/x",
		"gopher://example.com",
		"example.com/no-scheme",
		"::bad::",
	} {
		err := ValidateURL(raw)
		require.Error(t, err, "URL %q must be rejected", raw)
		assert.ErrorIs(t, err, domain.ErrSSRFBlocked)
	}
}

func TestValidateURL_PrivateIPBlocked(t *testing.T) {
	for _, raw := range []string{
		"http://127.0.0.1/admin",
		"http://127.0.0.1:8080/admin",
		"https://10.0.0.5/internal",
		"http://172.16.1.1/",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"http://0.0.0.0/",
	} {
		err := ValidateURL(raw)
		require.Error(t, err, "URL %q must be rejected", raw)
		assert.ErrorIs(t, err, domain.ErrSSRFBlocked)
	}
}

func TestValidateURL_PublicIPAllowed(t *testing.T) {
	assert.NoError(t, ValidateURL("https://1.1.1.1/"))
	assert.NoError(t, ValidateURL("http://8.8.8.8:53/"))
}

func TestValidateURL_EmptyHost(t *testing.T) {
	err := ValidateURL("http://")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSSRFBlocked)
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.1.2.3", "172.16.0.1", "172.31.255.255", "192.168.0.1", "127.0.0.1", "169.254.1.1", "::1", "fc00::1", "fe80::1", "0.0.0.1"}
	for _, s := range private {
		assert.True(t, IsPrivateIP(net.ParseIP(s)), "%s should be private", s)
	}

	public := []string{"1.1.1.1", "8.8.8.8", "172.32.0.1", "2606:4700:4700::1111"}
	for _, s := range public {
		assert.False(t, IsPrivateIP(net.ParseIP(s)), "%s should be public", s)
	}
}

func TestNewSSRFSafeTransport_Timeouts(t *testing.T) {
	tr := NewSSRFSafeTransport()
	assert.NotNil(t, tr.DialContext)
	assert.NotZero(t, tr.TLSHandshakeTimeout)
	assert.NotZero(t, tr.ResponseHeaderTimeout)
}
