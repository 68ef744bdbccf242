package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/todokeeper/internal/common"
	"github.com/dmitrijs2005/todokeeper/internal/dbx"
	"github.com/dmitrijs2005/todokeeper/internal/logging"
	"github.com/dmitrijs2005/todokeeper/internal/server/auth"
	"github.com/dmitrijs2005/todokeeper/internal/server/avatars"
	"github.com/dmitrijs2005/todokeeper/internal/server/federated"
	"github.com/dmitrijs2005/todokeeper/internal/server/mail"
	"github.com/dmitrijs2005/todokeeper/internal/server/metrics"
	"github.com/dmitrijs2005/todokeeper/internal/server/models"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/todokeeper/internal/server/repositories/todos"
)

// --- in-memory store ---

// fakeStore mimics the constraints of the relational schema: unique email,
// unique google subject, cascading deletes. Repositories hand out copies so
// that services cannot mutate stored rows behind the store's back.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	resets   []*models.PasswordReset
	todos    []*models.Todo
	clock    time.Time

	accountUpdateErr error
	markUsedErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*models.Account{},
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing timestamps so ordering by creation time
// is deterministic.
func (s *fakeStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func (s *fakeStore) conflicts(a *models.Account) bool {
	for id, other := range s.accounts {
		if id == a.ID {
			continue
		}
		if other.Email == a.Email {
			return true
		}
		if a.GoogleSub != nil && other.GoogleSub != nil && *a.GoogleSub == *other.GoogleSub {
			return true
		}
	}
	return false
}

type fakeAccounts struct{ s *fakeStore }

func (r *fakeAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if r.s.conflicts(a) {
		return nil, fmt.Errorf("%w: duplicate key", common.ErrorAlreadyExists)
	}
	a.CreatedAt = r.s.tick()
	a.UpdatedAt = a.CreatedAt
	r.s.accounts[a.ID] = copyAccount(a)
	return copyAccount(a), nil
}

func (r *fakeAccounts) find(match func(*models.Account) bool) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if match(a) {
			return copyAccount(a), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.ID == id })
}

func (r *fakeAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.Email == email })
}

func (r *fakeAccounts) GetByGoogleSub(_ context.Context, sub string) (*models.Account, error) {
	return r.find(func(a *models.Account) bool { return a.GoogleSub != nil && *a.GoogleSub == sub })
}

// write applies mutate to the stored row under the store lock, mirroring a
// single UPDATE ... RETURNING statement.
func (r *fakeAccounts) write(id string, mutate func(stored *models.Account) bool) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.accountUpdateErr != nil {
		return nil, r.s.accountUpdateErr
	}
	old, ok := r.s.accounts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	next := copyAccount(old)
	if !mutate(next) {
		return nil, common.ErrorNotFound
	}
	if r.s.conflicts(next) {
		return nil, fmt.Errorf("%w: duplicate key", common.ErrorAlreadyExists)
	}
	next.UpdatedAt = r.s.tick()
	r.s.accounts[id] = next
	return copyAccount(next), nil
}

func (r *fakeAccounts) Update(_ context.Context, a *models.Account) (*models.Account, error) {
	return r.write(a.ID, func(stored *models.Account) bool {
		stored.Email, stored.Name, stored.Picture = a.Email, a.Name, a.Picture
		return true
	})
}

func (r *fakeAccounts) SetPasswordHash(_ context.Context, id, hash string) (*models.Account, error) {
	return r.write(id, func(stored *models.Account) bool {
		stored.PasswordHash = &hash
		return true
	})
}

func (r *fakeAccounts) AddPassword(_ context.Context, id, hash string, name *string) (*models.Account, error) {
	return r.write(id, func(stored *models.Account) bool {
		if stored.HasPassword() {
			return false
		}
		stored.PasswordHash = &hash
		if name != nil {
			stored.Name = name
		}
		return true
	})
}

func (r *fakeAccounts) LinkGoogle(_ context.Context, id, sub, email string, name, picture *string) (*models.Account, error) {
	return r.write(id, func(stored *models.Account) bool {
		if stored.IsFederated() && *stored.GoogleSub != sub {
			return false
		}
		stored.GoogleSub = &sub
		stored.Email = email
		if name != nil {
			stored.Name = name
		}
		if picture != nil {
			stored.Picture = picture
		}
		return true
	})
}

func (r *fakeAccounts) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.accounts[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.accounts, id)

	resets := r.s.resets[:0]
	for _, p := range r.s.resets {
		if p.AccountID != id {
			resets = append(resets, p)
		}
	}
	r.s.resets = resets

	items := r.s.todos[:0]
	for _, t := range r.s.todos {
		if t.AccountID != id {
			items = append(items, t)
		}
	}
	r.s.todos = items
	return nil
}

type fakeResets struct{ s *fakeStore }

func (r *fakeResets) Create(_ context.Context, p *models.PasswordReset) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = r.s.tick()
	c := *p
	r.s.resets = append(r.s.resets, &c)
	return nil
}

func (r *fakeResets) FindLatestUnused(_ context.Context, accountID, codeHash string) (*models.PasswordReset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.resets) - 1; i >= 0; i-- {
		p := r.s.resets[i]
		if p.AccountID == accountID && p.CodeHash == codeHash && p.UsedAt == nil {
			c := *p
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeResets) DeleteUnusedForAccount(_ context.Context, accountID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	kept := r.s.resets[:0]
	for _, p := range r.s.resets {
		if p.AccountID == accountID && p.UsedAt == nil {
			n++
			continue
		}
		kept = append(kept, p)
	}
	r.s.resets = kept
	return n, nil
}

func (r *fakeResets) MarkUsed(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.markUsedErr != nil {
		return r.s.markUsedErr
	}
	for _, p := range r.s.resets {
		if p.ID == id && p.UsedAt == nil {
			now := r.s.tick()
			p.UsedAt = &now
			return nil
		}
	}
	return common.ErrorNotFound
}

type fakeTodos struct{ s *fakeStore }

func copyTodo(t *models.Todo) *models.Todo {
	c := *t
	return &c
}

func (r *fakeTodos) Create(_ context.Context, t *models.Todo) (*models.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = r.s.tick()
	t.UpdatedAt = t.CreatedAt
	r.s.todos = append(r.s.todos, copyTodo(t))
	return copyTodo(t), nil
}

func (r *fakeTodos) lookup(accountID, id string) *models.Todo {
	for _, t := range r.s.todos {
		if t.ID == id && t.AccountID == accountID {
			return t
		}
	}
	return nil
}

func (r *fakeTodos) Get(_ context.Context, accountID, id string) (*models.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t := r.lookup(accountID, id); t != nil {
		return copyTodo(t), nil
	}
	return nil, common.ErrorNotFound
}

func (r *fakeTodos) ListByAccount(_ context.Context, accountID string) ([]*models.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*models.Todo, 0)
	for _, t := range r.s.todos {
		if t.AccountID == accountID {
			out = append(out, copyTodo(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Done != out[j].Done {
			return !out[i].Done
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeTodos) Update(_ context.Context, accountID, id string, p models.TodoPatch) (*models.Todo, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.lookup(accountID, id)
	if t == nil {
		return nil, common.ErrorNotFound
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.ClearDescription {
		t.Description = nil
	} else if p.Description != nil {
		d := *p.Description
		t.Description = &d
	}
	if p.Done != nil {
		t.Done = *p.Done
	}
	t.UpdatedAt = r.s.tick()
	return copyTodo(t), nil
}

func (r *fakeTodos) Delete(_ context.Context, accountID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, t := range r.s.todos {
		if t.ID == id && t.AccountID == accountID {
			r.s.todos = append(r.s.todos[:i], r.s.todos[i+1:]...)
			return nil
		}
	}
	return common.ErrorNotFound
}

func (r *fakeTodos) DeleteAllForAccount(_ context.Context, accountID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	kept := r.s.todos[:0]
	for _, t := range r.s.todos {
		if t.AccountID == accountID {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.s.todos = kept
	return n, nil
}

type fakeRepoManager struct{ s *fakeStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *fakeRepoManager) Accounts(dbx.DBTX) accounts.Repository {
	return &fakeAccounts{m.s}
}

func (m *fakeRepoManager) PasswordResets(dbx.DBTX) passwordresets.Repository {
	return &fakeResets{m.s}
}

func (m *fakeRepoManager) Todos(dbx.DBTX) todos.Repository {
	return &fakeTodos{m.s}
}

// --- collaborators ---

// fakeHasher keeps tests fast; bcrypt itself is covered by the passwords
// package. onHash, when set, runs once inside the next Hash call so tests can
// interleave another request with a credential change.
type fakeHasher struct {
	err    error
	onHash func()
}

func (h *fakeHasher) Hash(plain string) (string, error) {
	if hook := h.onHash; hook != nil {
		h.onHash = nil
		hook()
	}
	if h.err != nil {
		return "", h.err
	}
	return "hashed:" + plain, nil
}

func (h *fakeHasher) Verify(hash, plain string) bool { return hash == "hashed:"+plain }

type fakeGoogle struct {
	identities map[string]*federated.Identity
}

func (g *fakeGoogle) Verify(_ context.Context, idToken string) (*federated.Identity, error) {
	id, ok := g.identities[idToken]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", federated.ErrInvalidToken)
	}
	c := *id
	return &c, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// lastCode extracts the plaintext code from the last reset e-mail.
func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("no e-mail sent")
	}
	text := m.sent[len(m.sent)-1].Text
	const prefix = "Seu código é: "
	i := strings.Index(text, prefix)
	if i < 0 {
		t.Fatalf("no code in e-mail: %q", text)
	}
	return text[i+len(prefix) : i+len(prefix)+6]
}

type fakePresigner struct {
	enabled bool
	err     error
}

func (p *fakePresigner) Enabled() bool { return p.enabled }

func (p *fakePresigner) PresignUpload(_ context.Context, accountID string) (*avatars.Upload, error) {
	if p.err != nil {
		return nil, p.err
	}
	key := "avatars/" + accountID + "/k"
	return &avatars.Upload{Key: key, UploadURL: "https://s3/" + key + "?sig", PictureURL: "https://cdn/" + key}, nil
}

// --- fixture ---

const testSecret = "test-secret"

type fixture struct {
	store    *fakeStore
	db       *sql.DB
	hasher   *fakeHasher
	issuer   *auth.Issuer
	google   *fakeGoogle
	mailer   *fakeMailer
	metrics  *metrics.Metrics
	accounts *AccountService
	resets   *PasswordResetService
	profile  *ProfileService
	todos    *TodoService
}

// newTestDB returns a real *sql.DB so that dbx.WithTx can begin and commit;
// the fake repositories ignore the handle they are bound to.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newFakeStore(),
		db:      newTestDB(t),
		hasher:  &fakeHasher{},
		issuer:  auth.NewIssuer(testSecret, 7*24*time.Hour),
		google:  &fakeGoogle{identities: map[string]*federated.Identity{}},
		mailer:  &fakeMailer{},
		metrics: metrics.New(),
	}
	rm := &fakeRepoManager{f.store}
	log := logging.Nop()
	f.accounts = NewAccountService(f.db, rm, f.hasher, f.issuer, f.google, f.metrics, log)
	f.resets = NewPasswordResetService(f.db, rm, f.hasher, &fakeMailerProxy{f}, "ToDo Premium", f.metrics, log)
	f.profile = NewProfileService(f.db, rm, f.hasher, f.issuer, &fakePresigner{enabled: true}, f.metrics, log)
	f.todos = NewTodoService(f.db, rm, log)
	return f
}

// fakeMailerProxy lets a test swap the mailer after the fixture is built.
type fakeMailerProxy struct{ f *fixture }

func (p *fakeMailerProxy) Send(ctx context.Context, msg mail.Message) error {
	return p.f.mailer.Send(ctx, msg)
}

func (f *fixture) seedLocal(t *testing.T, email, password string) *models.Account {
	t.Helper()
	hash := "hashed:" + password
	a, err := (&fakeAccounts{f.store}).Create(context.Background(), &models.Account{Email: email, PasswordHash: &hash})
	if err != nil {
		t.Fatalf("seed local account: %v", err)
	}
	return a
}

func (f *fixture) seedGoogle(t *testing.T, email, sub string) *models.Account {
	t.Helper()
	a, err := (&fakeAccounts{f.store}).Create(context.Background(), &models.Account{Email: email, GoogleSub: &sub})
	if err != nil {
		t.Fatalf("seed google account: %v", err)
	}
	return a
}

func (f *fixture) account(t *testing.T, id string) *models.Account {
	t.Helper()
	a, err := (&fakeAccounts{f.store}).GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load account %s: %v", id, err)
	}
	return a
}

// kindOf returns the classification kind of a service error or nil.
func kindOf(err error) error {
	var e *common.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
