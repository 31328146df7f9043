package usage

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Verdicts assigned by the analysis pipeline.
const (
	VerdictClean      = "clean"
	VerdictSuspicious = "suspicious"
	VerdictMalicious  = "malicious"
)

// UsageRecord is one completed email analysis. The table doubles as the
// durable usage ledger: allowance accounting falls back to counting rows here
// when the Redis counters are unavailable.
type UsageRecord struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID   uuid.UUID      `json:"account_id" gorm:"type:uuid;not null;index:idx_usage_account_created"`
	MemberEmail string         `json:"member_email" gorm:"not null"`
	Verdict     string         `json:"verdict" gorm:"not null"`
	Findings    pq.StringArray `json:"findings" gorm:"type:text[]"`
	LatencyMS   int            `json:"latency_ms"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index:idx_usage_account_created"`
}

// TableName returns the database table name.
func (UsageRecord) TableName() string {
	return "usage_records"
}
