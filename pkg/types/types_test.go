package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUnbound, "unbound"},
		{RoleServer, "server"},
		{RoleClient, "client"},
		{RoleServer | RoleClient, "server+client"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.String())
	}
	assert.NotEqual(t, RoleServer, RoleClient)
	assert.True(t, (RoleServer | RoleClient).Has(RoleClient))
	assert.False(t, RoleServer.Has(RoleClient))
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "name=server", Query{Name: "server"}.String())
	assert.Equal(t, "type=test", Query{Type: "test"}.String())
	assert.Equal(t, "host=localhost", Query{Host: "localhost"}.String())
	assert.Equal(t, "event=*::hello", Query{Event: "*::hello"}.String())
	assert.Equal(t, "all", Query{}.String())
}

func TestSpawnSpecValidate(t *testing.T) {
	assert.NoError(t, SpecFor("hook").Validate())
	assert.Error(t, SpawnSpec{Name: "x"}.Validate())
	assert.Error(t, SpawnSpec{Type: "x"}.Validate())
	assert.Error(t, SpawnSpec{Name: "x", Type: "x", Port: 70000}.Validate())
}

func TestRemoteString(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5000", Remote{Host: "127.0.0.1", Port: 5000}.String())
	assert.Equal(t, "[::1]:5000", Remote{Host: "::1", Port: 5000}.String())
}
