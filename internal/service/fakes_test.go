package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/token-service/internal/models"
)

type memTokenStore struct {
	mu          sync.Mutex
	rows        map[string]*models.TokenRecord
	nextID      int64
	revokeCalls int
	findErr     error
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{rows: make(map[string]*models.TokenRecord)}
}

func memKey(userID int64, tokenType models.TokenType) string {
	return fmt.Sprintf("%s:%d", tokenType, userID)
}

func (s *memTokenStore) FindByUserAndType(ctx context.Context, userID int64, tokenType models.TokenType) (*models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	row, ok := s.rows[memKey(userID, tokenType)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *row
	return &clone, nil
}

func (s *memTokenStore) FindActiveByValue(ctx context.Context, value string, tokenType models.TokenType) (*models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, row := range s.rows {
		if row.TokenType == tokenType && row.TokenValue == value && !row.Revoked {
			clone := *row
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memTokenStore) Upsert(ctx context.Context, userID int64, tokenType models.TokenType, value string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memKey(userID, tokenType)
	row, ok := s.rows[key]
	if !ok {
		s.nextID++
		row = &models.TokenRecord{ID: s.nextID, UserID: userID, TokenType: tokenType}
		s.rows[key] = row
	}
	row.TokenValue = value
	row.CreatedAt = issuedAt
	row.Revoked = false
	row.RevokedAt = nil
	return nil
}

func (s *memTokenStore) MarkRevoked(ctx context.Context, userID int64, tokenType models.TokenType, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeCalls++
	row, ok := s.rows[memKey(userID, tokenType)]
	if !ok || row.Revoked {
		return nil
	}
	row.Revoked = true
	row.RevokedAt = &revokedAt
	return nil
}

type memKeyStore struct {
	keys    []*models.SigningKey
	findErr error
}

func (s *memKeyStore) FindLatest(ctx context.Context) (*models.SigningKey, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if len(s.keys) == 0 {
		return nil, sql.ErrNoRows
	}
	return s.keys[len(s.keys)-1], nil
}

func (s *memKeyStore) Create(ctx context.Context, key *models.SigningKey) error {
	key.ID = int64(len(s.keys) + 1)
	s.keys = append(s.keys, key)
	return nil
}

type fakeDirectory struct {
	users     map[int64]*models.UserIdentity
	passwords map[string]string
	err       error
}

func newFakeDirectory(users ...*models.UserIdentity) *fakeDirectory {
	d := &fakeDirectory{users: make(map[int64]*models.UserIdentity), passwords: make(map[string]string)}
	for _, u := range users {
		d.users[u.ID] = u
		d.passwords[u.Email] = "password"
	}
	return d
}

func (d *fakeDirectory) VerifyCredentials(ctx context.Context, email, password string) (*models.UserIdentity, error) {
	if d.err != nil {
		return nil, d.err
	}
	if pw, ok := d.passwords[email]; !ok || pw != password {
		return nil, ErrCredentialInvalid
	}
	for _, u := range d.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrCredentialInvalid
}

func (d *fakeDirectory) GetUserByID(ctx context.Context, id int64) (*models.UserIdentity, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, nil
	}
	clone := *u
	return &clone, nil
}

type staticKey string

func (k staticKey) SigningKey() (string, error) {
	if k == "" {
		return "", ErrSigningKeyNotInitialized
	}
	return string(k), nil
}

// testClock is a settable time source truncated to whole seconds.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// metricValue sums the samples of a counter family whose labels include want.
func metricValue(t *testing.T, m *MetricsService, name string, want map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	samples:
		for _, sample := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, l := range sample.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue samples
				}
			}
			total += sample.GetCounter().GetValue()
		}
	}
	return total
}
