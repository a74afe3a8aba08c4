package store

type Sender string

const (
	SenderUser      Sender = "USER"
	SenderAssistant Sender = "ASSISTANT"
)

// Turn is a single message row in a chat session. User turns carry a
// ClientMsgID so retried submissions land on the same row; assistant turns
// carry ReplyToID pointing at the ClientMsgID of the user turn they answer.
type Turn struct {
	ID           int32
	UID          string
	SessionID    int32
	Sender       Sender
	Content      string
	ClientMsgID  string
	ReplyToID    string
	Reaction     string
	ReactionNote string
	CreatedTs    int64
	UpdatedTs    int64
}

type FindTurn struct {
	ID          *int32
	UID         *string
	SessionID   *int32
	Sender      *Sender
	ClientMsgID *string
	ReplyToID   *string

	Limit *int
}

type UpdateTurn struct {
	ID           int32
	Content      *string
	Reaction     *string
	ReactionNote *string
	UpdatedTs    *int64
}

type DeleteTurn struct {
	ID        *int32
	SessionID *int32
}
