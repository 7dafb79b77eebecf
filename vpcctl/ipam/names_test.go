package ipam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mulgadc/vpcctl/vpcctl/errdefs"
)

func TestNamingContract(t *testing.T) {
	assert.Equal(t, "br-v", BridgeName("v"))
	assert.Equal(t, "ns-v-a", NamespaceName("v", "a"))

	host, ns := VethNames("v", "a")
	assert.Equal(t, "veth-v-a-h", host)
	assert.Equal(t, "veth-v-a-n", ns)
}

func TestPeerVethNamesLexicographic(t *testing.T) {
	sideA, sideB := PeerVethNames("v", "w")
	assert.Equal(t, "veth-peer-v-w-a", sideA)
	assert.Equal(t, "veth-peer-v-w-b", sideB)

	// Argument order must not matter.
	sideA2, sideB2 := PeerVethNames("w", "v")
	assert.Equal(t, sideA, sideA2)
	assert.Equal(t, sideB, sideB2)
}

func TestOrderPair(t *testing.T) {
	a, b := OrderPair("w", "v")
	assert.Equal(t, "v", a)
	assert.Equal(t, "w", b)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("prod-web-1"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("Upper"))
	assert.False(t, ValidName("has_underscore"))
	assert.False(t, ValidName("this-name-is-way-too-long-for-a-vpc"))
}

func TestCheckVPCNameLengthGuard(t *testing.T) {
	assert.NoError(t, CheckVPCName("prod-web-1"))

	// "br-" + 13 chars exceeds the 15-char interface name limit.
	err := CheckVPCName("abcdefghijklm")
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}

func TestCheckSubnetNameLengthGuard(t *testing.T) {
	assert.NoError(t, CheckSubnetName("v", "a"))

	// veth-<vpc>-<subnet>-h must fit in 15 characters.
	err := CheckSubnetName("prod", "frontend")
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}

func TestCheckPeerNamesLengthGuard(t *testing.T) {
	assert.NoError(t, CheckPeerNames("v", "w"))

	err := CheckPeerNames("verylong", "names")
	assert.True(t, errors.Is(err, errdefs.ErrValidation))
}
