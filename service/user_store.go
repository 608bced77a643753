package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/model"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is an in-memory account store seeded from configuration.
type UserStore struct {
	mu    sync.RWMutex
	users map[int64]*model.User
	cost  int
}

// NewUserStore hashes the seed users' passwords and indexes them by ID.
func NewUserStore(seed []config.User) (*UserStore, error) {
	return newUserStore(seed, bcrypt.DefaultCost)
}

func newUserStore(seed []config.User, cost int) (*UserStore, error) {
	s := &UserStore{users: make(map[int64]*model.User, len(seed)), cost: cost}
	for _, u := range seed {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", u.Email, err)
		}
		s.users[u.ID] = &model.User{
			ID:             u.ID,
			Email:          normalizeEmail(u.Email),
			Name:           u.Name,
			HashedPassword: string(hash),
			CreatedAt:      time.Now().UTC(),
		}
	}
	return s, nil
}

// Register creates an account. The new ID is one more than the largest
// existing ID.
func (s *UserStore) Register(email, name, password string) (*model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var maxID int64
	for id, u := range s.users {
		if u.Email == email {
			return nil, ErrEmailTaken
		}
		maxID = max(maxID, id)
	}

	user := &model.User{
		ID:             maxID + 1,
		Email:          email,
		Name:           name,
		HashedPassword: string(hash),
		CreatedAt:      time.Now().UTC(),
	}
	s.users[user.ID] = user
	copied := *user
	return &copied, nil
}

// Authenticate returns the user when email and password match.
func (s *UserStore) Authenticate(email, password string) (*model.User, error) {
	email = normalizeEmail(email)

	s.mu.RLock()
	var found *model.User
	for _, u := range s.users {
		if u.Email == email {
			found = u
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	copied := *found
	return &copied, nil
}

// Get returns the user with the given ID.
func (s *UserStore) Get(id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
