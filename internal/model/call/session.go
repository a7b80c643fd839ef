package call

import (
	"time"

	"github.com/atlascall/sales-copilot/backend/internal/stage"
)

// Metadata is the caller-supplied session context, fixed at creation.
type Metadata struct {
	RepID           string `json:"repId"`
	CustomerName    string `json:"customerName,omitempty"`
	CustomerCompany string `json:"customerCompany,omitempty"`
	ProductFocus    string `json:"productFocus,omitempty"`
	Language        string `json:"language,omitempty"`
}

// Info is the creation/lookup view of a session.
type Info struct {
	ID        string      `json:"id"`
	Metadata  Metadata    `json:"metadata"`
	Stage     stage.Stage `json:"stage"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Status is the monitoring view returned by session-status.
type Status struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Stage        stage.Stage `json:"stage"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActivity time.Time   `json:"lastActivity"`
	TurnCount    int         `json:"turnCount"`
	Interrupted  bool        `json:"interrupted"`
}

// State is the full conversation snapshot returned by conversation-state.
type State struct {
	ID             string       `json:"id"`
	Stage          stage.Stage  `json:"stage"`
	Status         string       `json:"status"`
	Profile        Profile      `json:"profile"`
	Turns          []Turn       `json:"turns"`
	LastSuggestion *Suggestion  `json:"lastSuggestion,omitempty"`
	StagesCovered  []stage.Stage `json:"stagesCovered"`
}

// Lifecycle status values.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)
