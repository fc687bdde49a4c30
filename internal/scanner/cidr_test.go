package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCIDR_Slash24(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/24")
	require.NoError(t, err)
	assert.Len(t, ips, 254)
	assert.Equal(t, "192.168.50.1", ips[0])
	assert.Equal(t, "192.168.50.254", ips[len(ips)-1])
}

// TestExpandCIDR_TrailingSuffixIgnored reproduces spec.md §4.6: "an optional
// /suffix segment after the mask is tolerated and ignored".
func TestExpandCIDR_TrailingSuffixIgnored(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/24/ignored")
	require.NoError(t, err)
	assert.Len(t, ips, 254)
}

func TestExpandCIDR_Slash31And32YieldNone(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/31")
	require.NoError(t, err)
	assert.Empty(t, ips)

	ips, err = ExpandCIDR("192.168.50.0/32")
	require.NoError(t, err)
	assert.Empty(t, ips)
}

func TestExpandCIDR_Slash30(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/30")
	require.NoError(t, err)
	assert.Len(t, ips, 2)
	assert.Equal(t, []string{"192.168.50.1", "192.168.50.2"}, ips)
}

func TestExpandCIDR_InvalidBase(t *testing.T) {
	_, err := ExpandCIDR("not-an-ip/24")
	assert.Error(t, err)
}

func TestExpandCIDR_InvalidMask(t *testing.T) {
	_, err := ExpandCIDR("192.168.50.0/33")
	assert.Error(t, err)

	_, err = ExpandCIDR("192.168.50.0/notanumber")
	assert.Error(t, err)
}

func TestExpandCIDR_MissingMask(t *testing.T) {
	_, err := ExpandCIDR("192.168.50.0")
	assert.Error(t, err)
}
