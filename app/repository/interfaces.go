package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/StoreFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	// LockByID loads the user row with an exclusive lock held until the
	// surrounding transaction ends. Quota-checked operations of one user
	// serialise on it.
	LockByID(id uint) (*models.User, error)
}

// StoreRepository defines the interface for store-related database operations
type StoreRepository interface {
	Create(store *models.Store) error
	GetByID(id uint) (*models.Store, error)
	GetByIDForUpdate(id uint) (*models.Store, error)
	GetBySlug(slug string) (*models.Store, error)
	SlugExists(slug string) (bool, error)
	CountByUserID(userID uint) (int64, error)
	CountActiveByUserID(userID uint) (int64, error)
	ListActiveByUserID(userID uint) ([]models.Store, error)
	ListActive(offset, limit int) ([]models.Store, error)
	ListActiveByCategory(categorySlug, citySlug string, offset, limit int) ([]models.Store, error)
	SetActive(id uint, active bool) error
	SetOwner(id, userID uint, active bool) error
	Delete(id uint) error
}

// SubscriptionRepository defines the interface for the local subscription mirror
type SubscriptionRepository interface {
	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	// FindCurrentByUserID returns the most recent ACTIVE or TRIALING row.
	FindCurrentByUserID(userID uint) (*models.Subscription, error)
	// CompareAndSwapUsage writes the AI rewrite counter only if the row still
	// carries expectedVersion, bumping the version. It reports whether the
	// write happened.
	CompareAndSwapUsage(id uint, expectedVersion uint64, used int, resetAt *time.Time) (bool, error)
}

// PlanRepository defines the interface for plan catalog rows
type PlanRepository interface {
	GetByID(id uint) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	Upsert(plan *models.Plan) error
}

// StoreTransferRepository defines the interface for the append-only transfer log
type StoreTransferRepository interface {
	Create(transfer *models.StoreTransfer) error
	ListIncoming(toUserID uint, since time.Time) ([]models.StoreTransfer, error)
}

// UnitOfWork exposes repositories bound to one connection or transaction.
type UnitOfWork interface {
	Users() UserRepository
	Stores() StoreRepository
	Subscriptions() SubscriptionRepository
	Plans() PlanRepository
	Transfers() StoreTransferRepository
}

// DataStore is the persistence entry point of the engine services.
type DataStore interface {
	WithContext(ctx context.Context) UnitOfWork
	// Transaction runs fn in one database transaction. A non-nil error from
	// fn rolls the transaction back and is returned unchanged.
	Transaction(ctx context.Context, fn func(tx UnitOfWork) error) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	Store        StoreRepository
	Subscription SubscriptionRepository
	Plan         PlanRepository
	Transfer     StoreTransferRepository

	db *gorm.DB
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Store:        NewStoreRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Plan:         NewPlanRepository(db),
		Transfer:     NewStoreTransferRepository(db),
		db:           db,
	}
}

func (r *Repositories) Users() UserRepository                 { return r.User }
func (r *Repositories) Stores() StoreRepository               { return r.Store }
func (r *Repositories) Subscriptions() SubscriptionRepository { return r.Subscription }
func (r *Repositories) Plans() PlanRepository                 { return r.Plan }
func (r *Repositories) Transfers() StoreTransferRepository    { return r.Transfer }

// WithContext returns repositories whose queries carry ctx.
func (r *Repositories) WithContext(ctx context.Context) UnitOfWork {
	return NewRepositories(r.db.WithContext(ctx))
}

// Transaction implements DataStore.
func (r *Repositories) Transaction(ctx context.Context, fn func(tx UnitOfWork) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
