package identity_test

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
	identity "github.com/wikirun/go-identity"
)

// memSession is a map-backed SessionContext for tests.
type memSession struct {
	values map[string]any
	saves  int
	resets int

	failSave  error
	failReset error
}

func newMemSession() *memSession {
	return &memSession{values: map[string]any{}}
}

func (s *memSession) Get(key string) any {
	return s.values[key]
}

func (s *memSession) Set(key string, value any) {
	s.values[key] = value
}

func (s *memSession) Delete(key string) {
	delete(s.values, key)
}

func (s *memSession) Reset() error {
	if s.failReset != nil {
		return s.failReset
	}
	s.resets++
	s.values = map[string]any{}
	return nil
}

func (s *memSession) Save() error {
	if s.failSave != nil {
		return s.failSave
	}
	s.saves++
	return nil
}

// MockNotifier implements identity.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	args := m.Called(ctx, recipient, subject, body)
	return args.Error(0)
}

// recordingNotifier keeps every outbound message so tests can inspect the
// links embedded in bodies.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

type sentMessage struct {
	Recipient string
	Subject   string
	Body      string
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, sentMessage{recipient, subject, body})
	return nil
}

func (n *recordingNotifier) last() (sentMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.messages) == 0 {
		return sentMessage{}, false
	}
	return n.messages[len(n.messages)-1], true
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// tokenFromLink pulls the trailing path segment out of an emailed link.
func tokenFromLink(body string) string {
	fields := strings.Fields(body)
	link := fields[len(fields)-1]
	parts := strings.Split(link, "/")
	return parts[len(parts)-1]
}

// MockGrantRevoker implements identity.GrantRevoker
type MockGrantRevoker struct {
	mock.Mock
}

func (m *MockGrantRevoker) RevokeGrant(ctx context.Context, grant string) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

// memStore is an in-memory AccountStore with the same error contract as
// the bun-backed one.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*identity.Account
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]*identity.Account{}}
}

func (s *memStore) FindByID(ctx context.Context, id int64) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, identity.ErrAccountNotFound
}

func (s *memStore) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Email == email {
			cp := *row
			return &cp, nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (s *memStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username == identifier || row.Email == identifier {
			cp := *row
			return &cp, nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (s *memStore) CreateLocal(ctx context.Context, username, email, digest string, confirmed bool) (*identity.Account, error) {
	return s.insert(&identity.Account{
		Username:       username,
		Email:          email,
		PasswordHash:   digest,
		EmailConfirmed: confirmed,
	})
}

func (s *memStore) CreateDelegated(ctx context.Context, username, email string) (*identity.Account, error) {
	return s.insert(&identity.Account{
		Username:       username,
		Email:          email,
		EmailConfirmed: true,
	})
}

func (s *memStore) insert(account *identity.Account) (*identity.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Username == account.Username || row.Email == account.Email {
			return nil, identity.ErrAccountExists
		}
	}
	s.nextID++
	account.ID = s.nextID
	s.rows[account.ID] = account
	cp := *account
	return &cp, nil
}

func (s *memStore) UpdateDigest(ctx context.Context, id int64, oldDigest, newDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	if row.PasswordHash != oldDigest {
		return identity.ErrStaleDigest
	}
	row.PasswordHash = newDigest
	return nil
}

func (s *memStore) MarkConfirmed(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return identity.ErrAccountNotFound
	}
	row.EmailConfirmed = true
	return nil
}
