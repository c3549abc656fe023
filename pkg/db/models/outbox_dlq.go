package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/pawfinds/pawfinds-backend/pkg/db/types"
	"github.com/pawfinds/pawfinds-backend/pkg/enums"
)

// OutboxDLQ captures terminal outbox failures for auditing and remediation.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null;uniqueIndex:ux_outbox_dlq_event_id" json:"eventId"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:event_type_enum;not null" json:"eventType"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:aggregate_type_enum;not null" json:"aggregateType"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null" json:"aggregateId"`
	Payload       dbtypes.JSONDocument       `gorm:"column:payload_json;type:jsonb;not null" json:"payload"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:outbox_dlq_error_reason_enum;not null" json:"errorReason"`
	ErrorMessage  *string                    `gorm:"column:error_message" json:"errorMessage,omitempty"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0" json:"attemptCount"`
	FailedAt      time.Time                  `gorm:"column:failed_at" json:"failedAt"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
