package account

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"natter/attachment"
)

func TestLogin(t *testing.T) {
	for _, tt := range []struct {
		name, email, password string
		ok                    bool
	}{
		{"demo", DemoEmail, DemoPassword, true},
		{"demo padded email", "  " + DemoEmail + " ", DemoPassword, true},
		{"wrong password", DemoEmail, "hunter2", false},
		{"wrong email", "someone@example.com", DemoPassword, false},
		{"empty", "", "", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			u, err := s.Login(tt.email, tt.password)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
				assert.False(t, s.Authenticated())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, User{Email: DemoEmail, Name: DemoName}, u)
			assert.True(t, s.Authenticated())
		})
	}
}

func TestLogout(t *testing.T) {
	s := NewStore()
	_, err := s.Login(DemoEmail, DemoPassword)
	require.NoError(t, err)
	s.Logout()
	_, ok := s.User()
	assert.False(t, ok)
	assert.ErrorIs(t, s.UpdateProfile(User{Name: "x"}), ErrNotLoggedIn)
}

func TestDraftRequiresLogin(t *testing.T) {
	_, err := NewStore().NewDraft()
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestDraftModifiedAndSave(t *testing.T) {
	s := NewStore()
	s.Login(DemoEmail, DemoPassword)

	d, err := s.NewDraft()
	require.NoError(t, err)
	assert.False(t, d.Modified())
	assert.ErrorIs(t, d.Save(), ErrUnchanged)

	d.Name = "Jane"
	assert.True(t, d.Modified())
	d.Name = DemoName
	assert.False(t, d.Modified())

	d.Name = " Jane Roe "
	require.NoError(t, d.Save())
	assert.False(t, d.Modified())

	u, _ := s.User()
	assert.Equal(t, "Jane Roe", u.Name)
	assert.Equal(t, DemoEmail, u.Email)
}

func TestDraftPickProfileImage(t *testing.T) {
	s := NewStore()
	s.Login(DemoEmail, DemoPassword)
	d, _ := s.NewDraft()
	p := attachment.NewPreparator()

	assert.Error(t, d.PickProfileImage(p, filepath.Join(t.TempDir(), "missing.jpg")))
	assert.False(t, d.Modified())

	path := filepath.Join(t.TempDir(), "me.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff\xe0"), 0644))
	require.NoError(t, d.PickProfileImage(p, path))
	assert.Equal(t, path, d.ProfileImage)
	assert.True(t, d.Modified())

	require.NoError(t, d.Save())
	u, _ := s.User()
	assert.Equal(t, path, u.ProfileImage)
}
