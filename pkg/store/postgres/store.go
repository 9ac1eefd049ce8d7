package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/crewboard/crewboard/pkg/admission"
	"github.com/crewboard/crewboard/pkg/config"
	"github.com/crewboard/crewboard/pkg/model"
)

type Store struct {
	db *gorm.DB
}

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return &Store{db: db}, nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Order{},
		&model.Application{},
		&model.WorkerProfile{},
		&model.OrderEvent{},
		&model.AuditEntry{},
	)
}

// OrderCounts is the applicant summary shown on employer order listings.
type OrderCounts struct {
	Total    int
	Accepted int
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, admission.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// TransitionStatus is the conditional terminal write: the UPDATE only
// applies while the order still holds the expected status, and RowsAffected
// tells the caller whether it won.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListOpen returns open orders whose job date falls inside the window,
// oldest job first.
func (r *OrderRepository) ListOpen(ctx context.Context, from, to time.Time, limit, offset int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND job_date >= ? AND job_date <= ?", model.OrderOpen, from, to).
		Order("job_date ASC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByEmployer(ctx context.Context, employerID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("employer_id = ?", employerID).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) Counts(ctx context.Context, orderID uuid.UUID) (OrderCounts, error) {
	var counts OrderCounts

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ?", orderID).
		Count(&total).Error; err != nil {
		return counts, err
	}

	var accepted int64
	if err := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ? AND status = ?", orderID, model.ApplicationAccepted).
		Count(&accepted).Error; err != nil {
		return counts, err
	}

	counts.Total = int(total)
	counts.Accepted = int(accepted)
	return counts, nil
}

// Update applies owner-scoped field updates and reports whether the order
// belonged to the employer.
func (r *OrderRepository) Update(ctx context.Context, employerID, orderID uuid.UUID, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND employer_id = ?", orderID, employerID).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *OrderRepository) Delete(ctx context.Context, employerID, orderID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND employer_id = ?", orderID, employerID).
		Delete(&model.Order{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

type ApplicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) Find(ctx context.Context, orderID, workerID uuid.UUID) (*model.Application, error) {
	var app model.Application
	err := r.db.WithContext(ctx).
		First(&app, "order_id = ? AND worker_id = ?", orderID, workerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (r *ApplicationRepository) Create(ctx context.Context, app *model.Application) error {
	err := r.db.WithContext(ctx).Create(app).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return admission.ErrConflict
	}
	return err
}

func (r *ApplicationRepository) Count(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return int(count), err
}

func (r *ApplicationRepository) CountByStatus(ctx context.Context, orderID uuid.UUID, status model.ApplicationStatus) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ? AND status = ?", orderID, status).
		Count(&count).Error
	return int(count), err
}

func (r *ApplicationRepository) TransitionStatus(ctx context.Context, orderID, workerID uuid.UUID, from, to model.ApplicationStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ? AND worker_id = ? AND status = ?", orderID, workerID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ApplicationRepository) RejectPending(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Application{}).
		Where("order_id = ? AND status = ?", orderID, model.ApplicationPending).
		Updates(map[string]interface{}{
			"status":     model.ApplicationRejected,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *ApplicationRepository) Delete(ctx context.Context, orderID, workerID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("order_id = ? AND worker_id = ? AND status = ?", orderID, workerID, model.ApplicationQueued).
		Delete(&model.Application{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ApplicationRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Application, error) {
	var apps []model.Application
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("applied_at ASC").
		Find(&apps).Error
	return apps, err
}

func (r *ApplicationRepository) ListByWorker(ctx context.Context, workerID uuid.UUID) ([]model.Application, error) {
	var apps []model.Application
	err := r.db.WithContext(ctx).
		Preload("Order").
		Where("worker_id = ?", workerID).
		Order("applied_at DESC").
		Find(&apps).Error
	return apps, err
}

func (r *ApplicationRepository) StalePendingOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.Application{}).
		Distinct("applications.order_id").
		Joins("JOIN orders ON orders.id = applications.order_id").
		Where("applications.status = ? AND orders.status IN ?",
			model.ApplicationPending, []model.OrderStatus{model.OrderFilled, model.OrderClosed}).
		Limit(limit).
		Pluck("applications.order_id", &ids).Error
	return ids, err
}

func (r *ApplicationRepository) StalledFillOrders(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.Application{}).
		Joins("JOIN orders ON orders.id = applications.order_id").
		Where("applications.status = ? AND orders.status = ?",
			model.ApplicationAccepted, model.OrderOpen).
		Group("applications.order_id, orders.required_count").
		Having("COUNT(*) >= orders.required_count").
		Limit(limit).
		Pluck("applications.order_id", &ids).Error
	return ids, err
}
