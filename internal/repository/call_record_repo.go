package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialout-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CallRecordRow is the durable projection of a registry call record
type CallRecordRow struct {
	CallID           string    `gorm:"column:call_id;primaryKey"`
	CarrierReference string    `gorm:"column:carrier_reference;index"`
	RoomName         string    `gorm:"column:room_name"`
	PhoneNumber      string    `gorm:"column:phone_number"`
	CustomerName     string    `gorm:"column:customer_name"`
	AppointmentDate  string    `gorm:"column:appointment_date"`
	AppointmentTime  string    `gorm:"column:appointment_time"`
	Status           string    `gorm:"column:status;index"`
	ResultMessage    string    `gorm:"column:result_message"`
	RecordingURL     string    `gorm:"column:recording_url"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (CallRecordRow) TableName() string {
	return "call_records"
}

// CallEventRow is one appended audit-trail entry
type CallEventRow struct {
	ID        string    `gorm:"column:id;primaryKey"`
	CallID    string    `gorm:"column:call_id;index"`
	Kind      string    `gorm:"column:kind"`
	Note      string    `gorm:"column:note"`
	Timestamp time.Time `gorm:"column:timestamp"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (CallEventRow) TableName() string {
	return "call_events"
}

// CallRecordRepository handles database operations for call records
type CallRecordRepository struct {
	db *gorm.DB
}

// NewCallRecordRepository creates a new call record repository
func NewCallRecordRepository(db *gorm.DB) *CallRecordRepository {
	return &CallRecordRepository{db: db}
}

// Upsert writes the current state of a call record
func (r *CallRecordRepository) Upsert(ctx context.Context, rec *domain.CallRecord) error {
	row := &CallRecordRow{
		CallID:           rec.CallID,
		CarrierReference: rec.CarrierReference,
		RoomName:         rec.RoomName,
		PhoneNumber:      rec.Request.PhoneNumber,
		CustomerName:     rec.Request.CustomerName,
		AppointmentDate:  rec.Request.AppointmentDate,
		AppointmentTime:  rec.Request.AppointmentTime,
		Status:           string(rec.Status),
		ResultMessage:    rec.ResultMessage,
		RecordingURL:     rec.RecordingURL,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert call record: %w", err)
	}
	return nil
}

// AppendEvent persists one audit-trail entry
func (r *CallRecordRepository) AppendEvent(ctx context.Context, callID string, entry domain.HistoryEntry) error {
	row := &CallEventRow{
		ID:        uuid.New().String(),
		CallID:    callID,
		Kind:      string(entry.Kind),
		Note:      entry.Note,
		Timestamp: entry.Timestamp,
		CreatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to append call event: %w", err)
	}
	return nil
}

// GetByCallID retrieves one persisted call record
func (r *CallRecordRepository) GetByCallID(ctx context.Context, callID string) (*CallRecordRow, error) {
	var row CallRecordRow
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return &row, nil
}

// ListByStatus retrieves persisted records in a given status
func (r *CallRecordRepository) ListByStatus(ctx context.Context, status domain.CallStatus, limit int) ([]*CallRecordRow, error) {
	var rows []*CallRecordRow
	q := r.db.WithContext(ctx).Where("status = ?", string(status)).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	return rows, nil
}

// EventsForCall retrieves the persisted audit trail of one call
func (r *CallRecordRepository) EventsForCall(ctx context.Context, callID string) ([]*CallEventRow, error) {
	var rows []*CallEventRow
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list call events: %w", err)
	}
	return rows, nil
}

// LoadCall reassembles one persisted call record with its audit trail. Serves
// lookups for calls that are no longer in the in-memory registry.
func (r *CallRecordRepository) LoadCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	row, err := r.GetByCallID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	events, err := r.EventsForCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	return rowToRecord(row, events), nil
}

// ListCallsByStatus returns persisted records in a given status as domain
// records, oldest first. The audit trail is not loaded.
func (r *CallRecordRepository) ListCallsByStatus(ctx context.Context, status domain.CallStatus, limit int) ([]*domain.CallRecord, error) {
	rows, err := r.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	recs := make([]*domain.CallRecord, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, rowToRecord(row, nil))
	}
	return recs, nil
}

func rowToRecord(row *CallRecordRow, events []*CallEventRow) *domain.CallRecord {
	rec := &domain.CallRecord{
		CallID:           row.CallID,
		CarrierReference: row.CarrierReference,
		RoomName:         row.RoomName,
		Request: domain.CallRequest{
			PhoneNumber:     row.PhoneNumber,
			CustomerName:    row.CustomerName,
			AppointmentDate: row.AppointmentDate,
			AppointmentTime: row.AppointmentTime,
		},
		Status:        domain.CallStatus(row.Status),
		ResultMessage: row.ResultMessage,
		RecordingURL:  row.RecordingURL,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	for _, ev := range events {
		rec.History = append(rec.History, domain.HistoryEntry{
			Kind:      domain.EventKind(ev.Kind),
			Timestamp: ev.Timestamp,
			Note:      ev.Note,
		})
	}
	return rec
}
