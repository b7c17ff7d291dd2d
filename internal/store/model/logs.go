package model

// GatewayErrorModel maps to 'gateway_errors'; one row per drained gateway error.
type GatewayErrorModel struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	RunID     string `gorm:"column:run_id;index"`
	RequestID int64  `gorm:"column:request_id"` // -1 for global errors
	Code      int    `gorm:"column:code"`
	Message   string `gorm:"column:message"`
	Timestamp int64  `gorm:"column:timestamp"`
}

func (GatewayErrorModel) TableName() string { return "gateway_errors" }
