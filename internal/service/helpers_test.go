package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/events"
	"github.com/sakif/tenant-accounts/internal/model"
	"github.com/sakif/tenant-accounts/internal/repository"
	"github.com/sakif/tenant-accounts/internal/repository/sqlite"
)

const testMinPasswordLength = 8

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingPublisher keeps every published event for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Name)
	}
	return out
}

// newTestStore opens a migrated sqlite database in the test's temp dir with
// guest mode off.
func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.EnsureServerInfo(context.Background(), model.ServerInfo{Name: "test"}))
	return db
}

// newTestUserService wires a UserService over store with a clock that
// advances one second per call, so creation order is also time order.
func newTestUserService(t *testing.T, store repository.Store) (*UserService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	svc := NewUserService(store, auth.NewPasswordServiceForTest(testMinPasswordLength), pub, discardLogger())

	var (
		mu    sync.Mutex
		clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, pub
}

func setGuestMode(t *testing.T, store repository.Store, enabled bool) {
	t.Helper()
	require.NoError(t, store.ServerConfig().UpdateServerInfo(context.Background(),
		model.ServerInfo{Name: "test", GuestModeEnabled: enabled}))
}

// mustCreate creates a user with a valid password and the requested role.
func mustCreate(t *testing.T, svc *UserService, email string, role model.Role) string {
	t.Helper()
	id, err := svc.Create(context.Background(), model.CreateUserInput{
		Email:    email,
		Name:     "User " + email,
		Password: "correct horse",
		Role:     role,
	}, model.CreateOptions{})
	require.NoError(t, err)
	return id
}

func mustRole(t *testing.T, svc *UserService, id string) model.Role {
	t.Helper()
	role, err := svc.GetRole(context.Background(), id)
	require.NoError(t, err)
	return role
}

// failingStore wraps a real store and fails one repository operation, in
// and out of transactions.
type failingStore struct {
	repository.Store
	purgeErr  error
	getErr    error
	deleteNop bool
}

func (f failingStore) Invites() repository.InviteRepository {
	return failingInvites{InviteRepository: f.Store.Invites(), err: f.purgeErr}
}

func (f failingStore) Users() repository.UserRepository {
	return failingUsers{UserRepository: f.Store.Users(), getErr: f.getErr, deleteNop: f.deleteNop}
}

func (f failingStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.WithTx(ctx, func(tx repository.Store) error {
		inner := f
		inner.Store = tx
		return fn(inner)
	})
}

// failingUsers can pretend a delete matched nothing and fail lookups by id.
type failingUsers struct {
	repository.UserRepository
	getErr    error
	deleteNop bool
}

func (f failingUsers) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.UserRepository.GetUserByID(ctx, id)
}

func (f failingUsers) DeleteUserKeepingQuorum(ctx context.Context, id string) (int64, error) {
	if f.deleteNop {
		return 0, nil
	}
	return f.UserRepository.DeleteUserKeepingQuorum(ctx, id)
}

type failingInvites struct {
	repository.InviteRepository
	err error
}

func (f failingInvites) PurgeInvitesForUser(ctx context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.InviteRepository.PurgeInvitesForUser(ctx, userID)
}

var errDiskFull = errors.New("database or disk is full")
