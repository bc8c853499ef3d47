package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskToPrefix(t *testing.T) {
	t.Run("should convert contiguous masks", func(t *testing.T) {
		cases := map[string]int{
			"255.255.255.255": 32,
			"255.255.255.0":   24,
			"255.255.252.0":   22,
			"255.0.0.0":       8,
			"0.0.0.0":         0,
		}
		for mask, want := range cases {
			got, err := MaskToPrefix(mask)
			require.NoError(t, err, mask)
			assert.Equal(t, want, got, mask)
		}
	})

	t.Run("should reject non-contiguous masks", func(t *testing.T) {
		_, err := MaskToPrefix("255.0.255.0")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "non-contiguous")
	})

	t.Run("should reject garbage and IPv6", func(t *testing.T) {
		_, err := MaskToPrefix("not-a-mask")
		assert.Error(t, err)

		_, err = MaskToPrefix("ffff::")
		assert.Error(t, err)
	})
}

func TestToCIDR(t *testing.T) {
	t.Run("should join network and mask", func(t *testing.T) {
		cidr, err := ToCIDR("192.168.1.0", "255.255.255.0")
		require.NoError(t, err)
		assert.Equal(t, "192.168.1.0/24", cidr)
	})

	t.Run("should fail on invalid network address", func(t *testing.T) {
		_, err := ToCIDR("192.168.1", "255.255.255.0")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid network address")
	})
}

func TestValidIPv4(t *testing.T) {
	assert.True(t, ValidIPv4("10.8.0.5"))
	assert.False(t, ValidIPv4("10.8.0"))
	assert.False(t, ValidIPv4("::1"))
	assert.False(t, ValidIPv4(""))
}
