package model

import (
	"time"

	"gorm.io/datatypes"
)

type FetchStatus int

const (
	FetchStatusUnknown   FetchStatus = 0
	FetchStatusCompleted FetchStatus = 1
	FetchStatusTimedOut  FetchStatus = 2
	FetchStatusFailed    FetchStatus = 3
)

func (s FetchStatus) String() string {
	switch s {
	case FetchStatusCompleted:
		return "completed"
	case FetchStatusTimedOut:
		return "timed_out"
	case FetchStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchRecordModel is one historical fetch outcome. The batch identity
// (symbol, session_date, rth) is unique; a re-fetch replaces the row.
type FetchRecordModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	RunID         string         `gorm:"column:run_id;index"`
	RequestID     int64          `gorm:"column:request_id"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_fetch_batch,priority:1"`
	SessionDate   string         `gorm:"column:session_date;uniqueIndex:idx_fetch_batch,priority:2"`
	RTH           bool           `gorm:"column:rth;uniqueIndex:idx_fetch_batch,priority:3"`
	LocalSymbol   string         `gorm:"column:local_symbol"`
	ConID         int64          `gorm:"column:con_id"`
	Bars          int            `gorm:"column:bars"`
	Status        FetchStatus    `gorm:"column:status"`
	Destination   string         `gorm:"column:destination"`
	ErrorMessage  string         `gorm:"column:error_message"`
	ContractJSON  datatypes.JSON `gorm:"column:contract_json;type:TEXT"`
	WaitedMillis  int64          `gorm:"column:waited_ms"`
	CreatedAtUnix int64          `gorm:"column:created_at"`

	CreatedAt time.Time `gorm:"-"`
}

func (FetchRecordModel) TableName() string { return "fetch_records" }
