package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneForm(t *testing.T) {
	s := New(Options{VisitorID: "v1"})
	assert.Equal(t, PhoneForm{}, s.PhoneForm("/auth/login"))

	s.SetPhoneForm("/auth/login", PhoneForm{Phone: "+1", Sent: true})
	assert.Equal(t, PhoneForm{Phone: "+1", Sent: true}, s.PhoneForm("/auth/login"))
	assert.Equal(t, PhoneForm{}, s.PhoneForm("/auth/register"), "forms are kept apart")

	s.SetPhoneForm("/auth/login", PhoneForm{})
	assert.Equal(t, PhoneForm{}, s.PhoneForm("/auth/login"))
}

func TestAnonymous(t *testing.T) {
	s := Anonymous()
	s.Restore(context.Background())
	snap := s.Snapshot()
	assert.True(t, snap.Initialized)
	assert.False(t, snap.Loading)
	assert.Nil(t, snap.User)

	s.SetPhoneForm("/auth/login", PhoneForm{Phone: "+1", Sent: true})
	assert.Equal(t, PhoneForm{}, s.PhoneForm("/auth/login"), "writes are ignored")
}
