package store

import (
	"context"
	"time"
)

// MatchKind selects how a rule's trigger compares against message text.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
	MatchPrefix   MatchKind = "prefix"
	MatchSuffix   MatchKind = "suffix"
	MatchRegex    MatchKind = "regex"
)

// ChatScope limits a rule to private chats, group chats, or both.
type ChatScope string

const (
	ScopeAll     ChatScope = "all"
	ScopePrivate ChatScope = "private"
	ScopeGroup   ChatScope = "group"
)

// ResponseKind selects what an auto-reply sends when a rule fires.
type ResponseKind string

const (
	ResponseText     ResponseKind = "text"
	ResponseTemplate ResponseKind = "template"
	ResponseImage    ResponseKind = "image"
	ResponseDocument ResponseKind = "document"
	ResponseAudio    ResponseKind = "audio"
	ResponseVideo    ResponseKind = "video"
)

// Rule is one auto-reply rule. SessionID empty means the rule applies
// to every session.
type Rule struct {
	ID               int64        `json:"id"`
	SessionID        string       `json:"sessionId,omitempty"`
	Name             string       `json:"name"`
	ChatScope        ChatScope    `json:"chatScope"`
	MatchKind        MatchKind    `json:"matchKind"`
	MatchValue       string       `json:"matchValue"`
	CaseSensitive    bool         `json:"caseSensitive"`
	ResponseKind     ResponseKind `json:"responseKind"`
	ResponseContent  string       `json:"responseContent,omitempty"`
	ResponseMedia    string       `json:"responseMedia,omitempty"` // base64
	ResponseMimetype string       `json:"responseMimetype,omitempty"`
	ResponseFilename string       `json:"responseFilename,omitempty"`
	CooldownSeconds  int          `json:"cooldownSeconds"`
	Priority         int          `json:"priority"`
	Enabled          bool         `json:"enabled"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Reply log statuses.
const (
	ReplySuccess  = "success"
	ReplyFailed   = "failed"
	ReplyCooldown = "cooldown"
)

// ReplyLog records one auto-reply attempt, fired or suppressed.
type ReplyLog struct {
	ID        int64     `json:"id"`
	RuleID    int64     `json:"ruleId"`
	RuleName  string    `json:"ruleName"`
	SessionID string    `json:"sessionId"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Matched   string    `json:"matched,omitempty"`  // inbound text, truncated
	Response  string    `json:"response,omitempty"` // sent content, truncated
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RuleStore manages auto-reply rules and their attempt log.
type RuleStore interface {
	Create(ctx context.Context, r *Rule) (int64, error)
	ByID(ctx context.Context, id int64) (*Rule, error)
	// ListEnabled returns enabled rules visible to sessionID (its own
	// plus global rules), ordered by priority descending then id
	// ascending. The order is the engine's selection order.
	ListEnabled(ctx context.Context, sessionID string) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id int64) error

	InsertLog(ctx context.Context, l *ReplyLog) error
	RecentLogs(ctx context.Context, limit int) ([]ReplyLog, error)
}

// CooldownStore tracks the last fire time per (rule, session, sender).
type CooldownStore interface {
	// LastFired returns the last fire time for the triple, ok=false if
	// the rule never fired for this sender.
	LastFired(ctx context.Context, ruleID int64, sessionID, senderID string) (time.Time, bool, error)
	// Touch records a fire, inserting or updating the record.
	Touch(ctx context.Context, ruleID int64, sessionID, senderID string, at time.Time) error
	// Prune deletes records whose last fire is older than cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
