package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressClasses(t *testing.T) {
	assert.True(t, IsLoopback("127.0.0.1"))
	assert.True(t, IsLoopback("127.4.5.6"))
	assert.True(t, IsLoopback("::1"))
	assert.False(t, IsLoopback("10.0.0.1"))
	assert.False(t, IsLoopback("localhost"))

	assert.True(t, IsWildcard("0.0.0.0"))
	assert.True(t, IsWildcard("::"))
	assert.False(t, IsWildcard("127.0.0.1"))
}

func TestSameIP(t *testing.T) {
	assert.True(t, SameIP("127.0.0.1", "::ffff:127.0.0.1"))
	assert.True(t, SameIP("::1", "0:0:0:0:0:0:0:1"))
	assert.False(t, SameIP("127.0.0.1", "127.0.0.2"))
	assert.True(t, SameIP("socket", "socket"))
}

func TestHostMatches(t *testing.T) {
	tests := []struct {
		name     string
		want     []string
		remote   string
		isServer bool
		match    bool
	}{
		{name: "exact", want: []string{"127.0.0.1"}, remote: "127.0.0.1", match: true},
		{name: "one of several", want: []string{"::1", "127.0.0.1"}, remote: "127.0.0.1", match: true},
		{name: "different host", want: []string{"10.0.0.1"}, remote: "127.0.0.1", match: false},
		{name: "loopback asks wildcard server", want: []string{"127.0.0.1"}, remote: "0.0.0.0", isServer: true, match: true},
		{name: "wildcard asks wildcard server", want: []string{"::"}, remote: "0.0.0.0", isServer: true, match: true},
		{name: "wildcard client is not special", want: []string{"127.0.0.1"}, remote: "0.0.0.0", isServer: false, match: false},
		{name: "remote address asks wildcard server", want: []string{"10.0.0.1"}, remote: "0.0.0.0", isServer: true, match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, HostMatches(tt.want, tt.remote, tt.isServer))
		})
	}
}
