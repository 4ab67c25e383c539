// Package memory provides an in-process repository.DataStore used by the
// service tests. Transactions are serialised by a single lock, which gives
// the same isolation the row locks provide in MySQL, and are rolled back by
// restoring a snapshot taken when they began.
//
// Because every transaction holds that one lock, LockByID and
// GetByIDForUpdate are plain reads here. Concurrent tests against this store
// cover the quota outcome, not the user-row lock ordering of the GORM
// repositories, which needs a MySQL-backed test.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"github.com/ManuelReschke/StoreFox/app/repository"
	"gorm.io/gorm"
)

type state struct {
	users         map[uint]models.User
	stores        map[uint]models.Store
	subscriptions map[uint]models.Subscription
	plans         map[uint]models.Plan
	transfers     []models.StoreTransfer
	nextID        uint
}

func (s *state) clone() *state {
	cp := &state{
		users:         make(map[uint]models.User, len(s.users)),
		stores:        make(map[uint]models.Store, len(s.stores)),
		subscriptions: make(map[uint]models.Subscription, len(s.subscriptions)),
		plans:         make(map[uint]models.Plan, len(s.plans)),
		transfers:     append([]models.StoreTransfer(nil), s.transfers...),
		nextID:        s.nextID,
	}
	for k, v := range s.users {
		cp.users[k] = v
	}
	for k, v := range s.stores {
		cp.stores[k] = v.Snapshot()
	}
	for k, v := range s.subscriptions {
		cp.subscriptions[k] = v
	}
	for k, v := range s.plans {
		cp.plans[k] = v
	}
	return cp
}

// Store is an in-memory repository.DataStore.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time

	// Commits counts committed transactions.
	Commits int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			users:         map[uint]models.User{},
			stores:        map[uint]models.Store{},
			subscriptions: map[uint]models.Subscription{},
			plans:         map[uint]models.Plan{},
			nextID:        1,
		},
		now: time.Now,
	}
}

// SetClock overrides the clock used for CreatedAt stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) WithContext(ctx context.Context) repository.UnitOfWork {
	return &uow{s: s}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.UnitOfWork) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(&uow{s: s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.Commits++
	s.mu.Unlock()
	return nil
}

// Seed helpers. They bypass transactions and are meant for test setup.

func (s *Store) AddUser(u models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.st.id()
	}
	s.st.users[u.ID] = u
	return u
}

func (s *Store) AddPlan(p models.Plan) models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.plans[p.ID] = p
	return p
}

func (s *Store) AddSubscription(sub models.Subscription) models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.st.id()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}
	s.st.subscriptions[sub.ID] = sub
	return sub
}

func (s *Store) AddStore(st models.Store) models.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.st.id()
	}
	for i := range st.Services {
		if st.Services[i].ID == 0 {
			st.Services[i].ID = s.st.id()
		}
		st.Services[i].StoreID = st.ID
	}
	s.st.stores[st.ID] = st.Snapshot()
	return st
}

// Inspection helpers.

// CommitCount returns the number of committed transactions.
func (s *Store) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Commits
}

func (s *Store) StoreByID(id uint) (models.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.stores[id]
	return st.Snapshot(), ok
}

func (s *Store) StoresOf(userID uint) []models.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Store
	for _, st := range s.st.stores {
		if st.UserID == userID {
			out = append(out, st.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) SubscriptionByID(id uint) (models.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.st.subscriptions[id]
	return sub, ok
}

func (s *Store) Transfers() []models.StoreTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StoreTransfer(nil), s.st.transfers...)
}

func (st *state) id() uint {
	id := st.nextID
	st.nextID++
	return id
}

type uow struct {
	s *Store
}

func (u *uow) Users() repository.UserRepository                 { return users{u.s} }
func (u *uow) Stores() repository.StoreRepository               { return stores{u.s} }
func (u *uow) Subscriptions() repository.SubscriptionRepository { return subscriptions{u.s} }
func (u *uow) Plans() repository.PlanRepository                 { return plans{u.s} }
func (u *uow) Transfers() repository.StoreTransferRepository    { return transfers{u.s} }

type users struct{ s *Store }

func (r users) Create(user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user.ID = r.s.st.id()
	user.CreatedAt = r.s.now()
	r.s.st.users[user.ID] = *user
	return nil
}

func (r users) GetByID(id uint) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &u, nil
}

func (r users) LockByID(id uint) (*models.User, error) {
	return r.GetByID(id)
}

type stores struct{ s *Store }

func (r stores) Create(store *models.Store) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.stores {
		if existing.Slug == store.Slug {
			return gorm.ErrDuplicatedKey
		}
	}
	store.ID = r.s.st.id()
	store.CreatedAt = r.s.now()
	store.UpdatedAt = store.CreatedAt
	r.s.st.stores[store.ID] = store.Snapshot()
	return nil
}

func (r stores) GetByID(id uint) (*models.Store, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.st.stores[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := st.Snapshot()
	return &cp, nil
}

func (r stores) GetByIDForUpdate(id uint) (*models.Store, error) {
	return r.GetByID(id)
}

func (r stores) GetBySlug(slug string) (*models.Store, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range r.s.st.stores {
		if st.Slug == slug {
			cp := st.Snapshot()
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r stores) SlugExists(slug string) (bool, error) {
	_, err := r.GetBySlug(slug)
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r stores) count(match func(models.Store) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, st := range r.s.st.stores {
		if match(st) {
			n++
		}
	}
	return n
}

func (r stores) CountByUserID(userID uint) (int64, error) {
	return r.count(func(st models.Store) bool { return st.UserID == userID }), nil
}

func (r stores) CountActiveByUserID(userID uint) (int64, error) {
	return r.count(func(st models.Store) bool { return st.UserID == userID && st.IsActive }), nil
}

func (r stores) list(match func(models.Store) bool) []models.Store {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Store
	for _, st := range r.s.st.stores {
		if match(st) {
			out = append(out, st.Snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r stores) ListActiveByUserID(userID uint) ([]models.Store, error) {
	return r.list(func(st models.Store) bool { return st.UserID == userID && st.IsActive }), nil
}

func (r stores) ListActive(offset, limit int) ([]models.Store, error) {
	all := r.list(func(st models.Store) bool { return st.IsActive })
	return page(all, offset, limit), nil
}

func (r stores) ListActiveByCategory(categorySlug, citySlug string, offset, limit int) ([]models.Store, error) {
	all := r.list(func(st models.Store) bool {
		return st.IsActive && st.CategorySlug == categorySlug && (citySlug == "" || st.CitySlug == citySlug)
	})
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, offset, limit), nil
}

func page(all []models.Store, offset, limit int) []models.Store {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit >= 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

func (r stores) update(id uint, fn func(*models.Store)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.st.stores[id]
	if !ok {
		return nil
	}
	fn(&st)
	st.UpdatedAt = r.s.now()
	r.s.st.stores[id] = st
	return nil
}

func (r stores) SetActive(id uint, active bool) error {
	return r.update(id, func(st *models.Store) { st.IsActive = active })
}

func (r stores) SetOwner(id, userID uint, active bool) error {
	return r.update(id, func(st *models.Store) {
		st.UserID = userID
		st.IsActive = active
	})
}

func (r stores) Delete(id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.st.stores, id)
	return nil
}

type subscriptions struct{ s *Store }

func (r subscriptions) Create(sub *models.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub.ID = r.s.st.id()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.s.now()
	}
	r.s.st.subscriptions[sub.ID] = *sub
	return nil
}

func (r subscriptions) GetByID(id uint) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.st.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &sub, nil
}

func (r subscriptions) FindCurrentByUserID(userID uint) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *models.Subscription
	for _, sub := range r.s.st.subscriptions {
		if sub.UserID != userID || !sub.Status.IsCurrent() {
			continue
		}
		if best == nil || sub.CreatedAt.After(best.CreatedAt) ||
			(sub.CreatedAt.Equal(best.CreatedAt) && sub.ID > best.ID) {
			cp := sub
			best = &cp
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return best, nil
}

func (r subscriptions) CompareAndSwapUsage(id uint, expectedVersion uint64, used int, resetAt *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.st.subscriptions[id]
	if !ok || sub.UsageVersion != expectedVersion {
		return false, nil
	}
	sub.AIRewritesUsedThisMonth = used
	sub.AIRewritesResetAt = resetAt
	sub.UsageVersion++
	r.s.st.subscriptions[id] = sub
	return true, nil
}

type plans struct{ s *Store }

func (r plans) GetByID(id uint) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r plans) ListActive() ([]models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Plan
	for _, p := range r.s.st.plans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r plans) Upsert(plan *models.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.plans[plan.ID] = *plan
	return nil
}

type transfers struct{ s *Store }

func (r transfers) Create(t *models.StoreTransfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = r.s.st.id()
	t.CreatedAt = r.s.now()
	r.s.st.transfers = append(r.s.st.transfers, *t)
	return nil
}

func (r transfers) ListIncoming(toUserID uint, since time.Time) ([]models.StoreTransfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.StoreTransfer
	for i := len(r.s.st.transfers) - 1; i >= 0; i-- {
		t := r.s.st.transfers[i]
		if t.ToUserID == toUserID && !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
