package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pawfinds/pawfinds-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// FetchDueTx returns unpublished rows whose retry delay has elapsed. Rows are
// locked with SKIP LOCKED on Postgres so parallel dispatchers never overlap;
// SQLite ignores the locking clause.
func (r *Repository) FetchDueTx(tx *gorm.DB, limit, maxAttempts int, now time.Time) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// LeaseTx pushes next_attempt_at past until so a claimed row is not picked up
// again while it is being handled outside the fetch transaction.
func (r *Repository) LeaseTx(tx *gorm.DB, ids []uuid.UUID, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&models.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("next_attempt_at", until).Error
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at":    time.Now().UTC(),
			"next_attempt_at": nil,
		}).Error
}

// MarkRetryTx records a failed attempt and schedules the next one.
func (r *Repository) MarkRetryTx(tx *gorm.DB, id uuid.UUID, cause error, nextAttemptAt time.Time) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      truncateError(cause),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt,
		}).Error
}

// MarkTerminalTx pins attempt_count at the cap so FetchDueTx never returns the row again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":      truncateError(cause),
			"attempt_count":   terminalAttempts,
			"next_attempt_at": nil,
		}).Error
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
