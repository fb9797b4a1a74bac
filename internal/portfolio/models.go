package portfolio

import "time"

type Portfolio struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug           string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Title          string    `gorm:"type:varchar(255);not null" json:"title"`
	DefaultAgentID *uint64   `gorm:"index" json:"default_agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Portfolio) TableName() string { return "portfolios" }

// Agent is a configured chat agent. Rows are owned by the CRUD layer; this
// core only reads them.
type Agent struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string    `gorm:"type:varchar(128);not null" json:"name"`
	Provider         string    `gorm:"type:varchar(32);not null" json:"provider"`
	ChatModel        string    `gorm:"type:varchar(64);not null" json:"chat_model"`
	EmbeddingModel   string    `gorm:"type:varchar(64);not null" json:"embedding_model"`
	TopK             int       `gorm:"not null;default:5" json:"top_k"`
	ScoreThreshold   float64   `gorm:"not null;default:0.35" json:"score_threshold"`
	MaxContextTokens int       `gorm:"not null;default:1600" json:"max_context_tokens"`
	Style            string    `gorm:"type:varchar(32);not null;default:'professional'" json:"style"`
	Instructions     string    `gorm:"type:text" json:"instructions"`
	EncryptedAPIKey  string    `gorm:"type:text" json:"-"`
	IsActive         bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// Content entities. CRUD over these lives outside this core; the chat
// pipeline reads them for citation enrichment and reindexing.

type Category struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID uint64 `gorm:"index;not null" json:"portfolio_id"`
	Name        string `gorm:"type:varchar(128);not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
}

func (Category) TableName() string { return "categories" }

type Skill struct {
	ID          uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID uint64  `gorm:"index;not null" json:"portfolio_id"`
	CategoryID  *uint64 `gorm:"index" json:"category_id,omitempty"`
	Name        string  `gorm:"type:varchar(128);not null" json:"name"`
	Level       string  `gorm:"type:varchar(32)" json:"level"`
	Description string  `gorm:"type:text" json:"description"`
}

func (Skill) TableName() string { return "skills" }

type Experience struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID uint64     `gorm:"index;not null" json:"portfolio_id"`
	Company     string     `gorm:"type:varchar(255);not null" json:"company"`
	Role        string     `gorm:"type:varchar(255)" json:"role"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Summary     string     `gorm:"type:text" json:"summary"`
}

func (Experience) TableName() string { return "experiences" }

type Section struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID uint64 `gorm:"index;not null" json:"portfolio_id"`
	Title       string `gorm:"type:varchar(255);not null" json:"title"`
	Body        string `gorm:"type:text" json:"body"`
}

func (Section) TableName() string { return "sections" }

type Link struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	PortfolioID uint64 `gorm:"index;not null" json:"portfolio_id"`
	Label       string `gorm:"type:varchar(128);not null" json:"label"`
	URL         string `gorm:"type:varchar(512);not null" json:"url"`
}

func (Link) TableName() string { return "links" }
