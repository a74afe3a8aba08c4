package store

// Conversation modes. Grounded sessions pull knowledge fragments into the
// prompt; free-form sessions talk to the model directly.
const (
	SessionModeGrounded = "grounded"
	SessionModeFreeForm = "free-form"
)

type ChatSession struct {
	ID        int32
	UID       string
	Principal string
	Mode      string
	Title     string
	Pinned    bool
	CreatedTs int64
	UpdatedTs int64
	RowStatus RowStatus
}

type FindChatSession struct {
	ID         *int32
	UID        *string
	Principal  *string
	Pinned     *bool
	RowStatus  *RowStatus
	TitleQuery *string

	// UpdatedTsBefore filters sessions whose last activity is older than the
	// given timestamp. Used by the inactivity sweeper.
	UpdatedTsBefore *int64

	Limit  *int
	Offset *int
}

type UpdateChatSession struct {
	ID        int32
	Title     *string
	Pinned    *bool
	RowStatus *RowStatus
	UpdatedTs *int64
}

type DeleteChatSession struct {
	ID int32
}
