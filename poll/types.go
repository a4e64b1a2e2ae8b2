package poll

import "time"

type QuestionType string

const (
	// QuestionSingle accepts exactly one vote per session for the question's
	// entire lifetime.
	QuestionSingle QuestionType = "single"
	// QuestionMultiple accepts any subset of the question's options, each
	// deduplicated independently.
	QuestionMultiple QuestionType = "multiple"
)

type Poll struct {
	ID          int        `json:"id" bson:"_id"`
	Title       string     `json:"title" bson:"title"`
	Description string     `json:"description" bson:"description"`
	Active      bool       `json:"active" bson:"active"`
	Closed      bool       `json:"closed" bson:"closed"`
	ClosedAt    *time.Time `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
}

type Question struct {
	ID         int          `json:"id" bson:"_id"`
	PollID     int          `json:"poll_id" bson:"poll_id"`
	Text       string       `json:"question_text" bson:"question_text"`
	Type       QuestionType `json:"question_type" bson:"question_type"`
	OrderIndex int          `json:"order_index" bson:"order_index"`

	Options []Option `json:"options,omitempty" bson:"-"`
}

type Option struct {
	ID         int    `json:"id" bson:"_id"`
	QuestionID int    `json:"question_id" bson:"question_id"`
	Text       string `json:"option_text" bson:"option_text"`
	OrderIndex int    `json:"order_index" bson:"order_index"`
}

// Vote is an append-only fact tying an option to a session. The pair
// (option_id, session_id) is unique; the store enforces it atomically.
type Vote struct {
	ID        int       `json:"id" bson:"_id"`
	OptionID  int       `json:"option_id" bson:"option_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	IPAddress string    `json:"-" bson:"ip_address"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// OptionRef is a resolved selection: an option together with its owning
// question and poll.
type OptionRef struct {
	OptionID     int
	QuestionID   int
	QuestionType QuestionType
	PollID       int
}

// SessionVote reports one recorded vote for the vote-check endpoint.
type SessionVote struct {
	OptionID   int `json:"optionId" bson:"option_id"`
	QuestionID int `json:"questionId" bson:"question_id"`
}

// NewPoll is the administrative creation payload.
type NewPoll struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Questions   []NewQuestion `json:"questions"`
}

type NewQuestion struct {
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Options []string     `json:"options"`
}
