package repository

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"gorm.io/datatypes"
)

type ProviderAttemptEntity struct {
	ID            int64          `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID string         `db:"transaction_id" gorm:"column:transaction_id;not null;index;size:64"`
	Provider      string         `db:"provider"       gorm:"column:provider;not null"`
	Phase         string         `db:"phase"          gorm:"column:phase;not null"`
	Status        string         `db:"status"         gorm:"column:status;not null"`
	ResponseCode  string         `db:"response_code"  gorm:"column:response_code"`
	Message       string         `db:"message"        gorm:"column:message"`
	Raw           datatypes.JSON `db:"raw"            gorm:"column:raw"`
	DurationMs    int64          `db:"duration_ms"    gorm:"column:duration_ms"`
	CreatedAt     time.Time      `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (ProviderAttemptEntity) TableName() string {
	return "provider_attempts"
}

// rawJSON keeps upstream bodies that are not JSON (HTML error pages, plain
// text) by storing them as a JSON string.
func rawJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return datatypes.JSON(quoted)
}

func toProviderAttemptEntity(m *model.ProviderAttempt) *ProviderAttemptEntity {
	if m == nil {
		return nil
	}
	return &ProviderAttemptEntity{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Provider:      string(m.Provider),
		Phase:         string(m.Phase),
		Status:        m.Status,
		ResponseCode:  m.ResponseCode,
		Message:       m.Message,
		Raw:           rawJSON(m.Raw),
		DurationMs:    m.Duration.Milliseconds(),
	}
}

func toProviderAttemptModel(e *ProviderAttemptEntity) *model.ProviderAttempt {
	if e == nil {
		return nil
	}
	return &model.ProviderAttempt{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		Provider:      model.Provider(e.Provider),
		Phase:         model.AttemptPhase(e.Phase),
		Status:        e.Status,
		ResponseCode:  e.ResponseCode,
		Message:       e.Message,
		Raw:           json.RawMessage(e.Raw),
		Duration:      time.Duration(e.DurationMs) * time.Millisecond,
		CreatedAt:     e.CreatedAt,
	}
}
