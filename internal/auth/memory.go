package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and local
// development.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) PendingVerifications(ctx context.Context, now time.Time) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*User
	for _, u := range s.users {
		if u.EmailVerificationTokenHash != "" && u.EmailVerificationExpiresAt.After(now) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PendingResets(ctx context.Context, now time.Time) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*User
	for _, u := range s.users {
		if u.PasswordResetTokenHash != "" && u.PasswordResetExpiresAt.After(now) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetRefreshToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (s *MemoryStore) RotateRefreshToken(ctx context.Context, userID, old, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrStaleRefreshToken
	}
	if u.RefreshToken == "" || u.RefreshToken != old {
		return ErrStaleRefreshToken
	}
	u.RefreshToken = next
	return nil
}

func (s *MemoryStore) ClearRefreshToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.RefreshToken = ""
	}
	return nil
}

func (s *MemoryStore) SetEmailVerification(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerificationTokenHash = tokenHash
	u.EmailVerificationExpiresAt = expiresAt
	u.EmailVerificationIssuedAt = issuedAt
	return nil
}

func (s *MemoryStore) MarkEmailVerified(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerified = true
	u.EmailVerificationTokenHash = ""
	u.EmailVerificationExpiresAt = time.Time{}
	u.EmailVerificationIssuedAt = time.Time{}
	return nil
}

func (s *MemoryStore) SetPasswordReset(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordResetTokenHash = tokenHash
	u.PasswordResetExpiresAt = expiresAt
	u.PasswordResetIssuedAt = issuedAt
	return nil
}

func (s *MemoryStore) CompletePasswordReset(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordResetTokenHash = ""
	u.PasswordResetExpiresAt = time.Time{}
	u.PasswordResetIssuedAt = time.Time{}
	u.RefreshToken = ""
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return strings.Compare(all[i].ID, all[j].ID) > 0
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	return nil
}
