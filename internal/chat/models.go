package chat

import "time"

type Session struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID   string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	PortfolioID uint64    `gorm:"index;not null" json:"portfolio_id"`
	AgentID     uint64    `gorm:"index;not null" json:"agent_id"`
	Language    string    `gorm:"type:varchar(16)" json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "agent_sessions" }

// Message is one persisted turn half. Citations is the JSON-encoded citation
// list on assistant rows, empty on user rows.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);index;not null" json:"session_id"`
	Role      string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Citations string    `gorm:"type:text" json:"citations,omitempty"`
	Cached    bool      `gorm:"not null;default:false" json:"cached"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "agent_messages" }
