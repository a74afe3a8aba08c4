// Package client is an embeddable conversation client: it renders a turn
// stream incrementally, reconciles it with reloaded history, and keeps
// per-turn actions consistent through edits, regenerations, and deletes.
package client

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry. RowID is zero until the server persists the
// turn; ClientMsgID identifies user turns across retries and ReplyToID links
// an assistant turn to the user turn it answers.
type Turn struct {
	Role        Role
	RowID       int32
	ClientMsgID string
	ReplyToID   string
	Text        string
	Reaction    string
}

// Action is a per-turn affordance surfaced by the engine.
type Action string

const (
	ActionCopy       Action = "copy"
	ActionEdit       Action = "edit"
	ActionRegenerate Action = "regenerate"
	ActionReact      Action = "react"
	ActionDelete     Action = "delete"
)
