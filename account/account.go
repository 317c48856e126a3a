// Package account keeps the signed-in user. Authentication is a local demo
// check; there is no account backend.
package account

import (
	"errors"
	"strings"
	"sync"

	"natter/attachment"
	"natter/log"
)

const (
	DemoEmail    = "test@example.com"
	DemoPassword = "password123"
	DemoName     = "John Doe"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrUnchanged          = errors.New("profile has no changes")
)

type User struct {
	Email        string
	Name         string
	ProfileImage string
}

type Store struct {
	mu   sync.RWMutex
	user *User
}

func NewStore() *Store {
	return &Store{}
}

// Login signs in with the demo credentials.
func (s *Store) Login(email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email != DemoEmail || password != DemoPassword {
		log.Warnf("login rejected for %q", email)
		return User{}, ErrInvalidCredentials
	}
	u := User{Email: email, Name: DemoName}
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	log.Info("login")
	return u, nil
}

func (s *Store) Logout() {
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	log.Info("logout")
}

func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// UpdateProfile replaces the signed-in user's profile.
func (s *Store) UpdateProfile(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return ErrNotLoggedIn
	}
	s.user = &u
	return nil
}

// ImagePicker validates a picked image reference.
type ImagePicker interface {
	PickImage(source string) (attachment.Descriptor, error)
}

// Draft is the profile editor state, seeded from the current user.
type Draft struct {
	store *Store
	base  User

	Name         string
	Email        string
	ProfileImage string
}

func (s *Store) NewDraft() (*Draft, error) {
	u, ok := s.User()
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return &Draft{
		store:        s,
		base:         u,
		Name:         u.Name,
		Email:        u.Email,
		ProfileImage: u.ProfileImage,
	}, nil
}

func (d *Draft) Modified() bool {
	return d.Name != d.base.Name || d.Email != d.base.Email || d.ProfileImage != d.base.ProfileImage
}

// PickProfileImage sets the profile image after checking the reference
// points at a readable file.
func (d *Draft) PickProfileImage(p ImagePicker, source string) error {
	desc, err := p.PickImage(source)
	if err != nil {
		return err
	}
	d.ProfileImage = desc.Source
	return nil
}

// Save writes the draft back to the store.
func (d *Draft) Save() error {
	if !d.Modified() {
		return ErrUnchanged
	}
	u := User{Email: strings.TrimSpace(d.Email), Name: strings.TrimSpace(d.Name), ProfileImage: d.ProfileImage}
	if err := d.store.UpdateProfile(u); err != nil {
		return err
	}
	d.base = u
	d.Name, d.Email = u.Name, u.Email
	log.Info("profile_saved")
	return nil
}
