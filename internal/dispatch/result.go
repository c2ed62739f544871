package dispatch

import "reply-bridge/pkg/models"

// Outcome classifies a dispatch call.
type Outcome int

const (
	// NoHandler means the topic has no registered handler; nothing was published.
	NoHandler Outcome = iota
	// NoReply means the handler ran and chose not to reply.
	NoReply
	// HandledOK means the reply was published.
	HandledOK
	// HandledErr means the handler failed or its reply could not be published.
	HandledErr
)

func (o Outcome) String() string {
	switch o {
	case NoHandler:
		return "no_handler"
	case NoReply:
		return "no_reply"
	case HandledOK:
		return "handled_ok"
	case HandledErr:
		return "handled_err"
	default:
		return "unknown"
	}
}

// Result is the report of one dispatch call. It is never retried.
type Result struct {
	Outcome  Outcome
	Topic    string
	Delivery models.Delivery
	Err      error
	// FailedRecord is the unsent reply when the failure happened while publishing.
	FailedRecord *models.ReplyRecord
}

func (r Result) OK() bool {
	return r.Outcome != HandledErr
}
