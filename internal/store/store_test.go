package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		convID string
		want   Kind
	}{
		{"anonymous, no conversation", "", "", KindLocal},
		{"anonymous, local conversation", "", "local-1700000000000-abcd1234", KindLocal},
		{"anonymous, remote-looking id", "", "3f2c9a", KindLocal},
		{"whitespace owner is anonymous", "   ", "3f2c9a", KindLocal},
		{"owner, no conversation", "user-1", "", KindRemote},
		{"owner, remote conversation", "user-1", "3f2c9a", KindRemote},
		{"owner, local conversation", "user-1", "local-1700000000000-abcd1234", KindLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Select(Identity{OwnerKey: tt.owner}, tt.convID))
		})
	}
}

func TestSession(t *testing.T) {
	s := NewSession("")
	assert.True(t, s.Identity().Anonymous())

	s.SignIn("user-1")
	assert.Equal(t, "user-1", s.Identity().OwnerKey)
	assert.False(t, s.Identity().Anonymous())

	s.SignOut()
	assert.True(t, s.Identity().Anonymous())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "local", KindLocal.String())
	assert.Equal(t, "remote", KindRemote.String())
}
