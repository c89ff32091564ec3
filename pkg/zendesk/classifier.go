package zendesk

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
)

// Known webhook event types. Everything else classifies as UnknownEvent.
const (
	EventTicketCreated       = "ticket.created"
	EventTicketUpdated       = "ticket.updated"
	EventTicketStatusChanged = "ticket.status_changed"
	EventCommentCreated      = "comment.created"
	EventCommentUpdated      = "comment.updated"
)

// TicketAction narrows which ticket.* type produced a TicketEvent.
type TicketAction string

const (
	TicketActionCreated       TicketAction = "created"
	TicketActionUpdated       TicketAction = "updated"
	TicketActionStatusChanged TicketAction = "status_changed"
)

// CommentAction narrows which comment.* type produced a CommentEvent.
type CommentAction string

const (
	CommentActionCreated CommentAction = "created"
	CommentActionUpdated CommentAction = "updated"
)

// Event is the closed set of classified webhook events. The variant is decided
// once here; downstream code switches exhaustively over the three
// implementations.
type Event interface {
	EventID() string
	Type() string
	Timestamp() string
	Subdomain() string
	isEvent()
}

// TicketEvent is a ticket.created / ticket.updated / ticket.status_changed
// event with its parsed snapshots.
type TicketEvent struct {
	Envelope Envelope
	Action   TicketAction
	Current  TicketPayload
	Previous *TicketPayload
}

func (e *TicketEvent) EventID() string   { return e.Envelope.ID }
func (e *TicketEvent) Type() string      { return e.Envelope.EventType }
func (e *TicketEvent) Timestamp() string { return e.Envelope.EventTimestamp }
func (e *TicketEvent) Subdomain() string { return e.Envelope.Account.Subdomain }
func (e *TicketEvent) isEvent()          {}

// CommentEvent is a comment.created / comment.updated event. The envelope
// subject holds the external ticket id the comment belongs to.
type CommentEvent struct {
	Envelope Envelope
	Action   CommentAction
	Current  CommentPayload
	Previous *CommentPayload
}

func (e *CommentEvent) EventID() string   { return e.Envelope.ID }
func (e *CommentEvent) Type() string      { return e.Envelope.EventType }
func (e *CommentEvent) Timestamp() string { return e.Envelope.EventTimestamp }
func (e *CommentEvent) Subdomain() string { return e.Envelope.Account.Subdomain }
func (e *CommentEvent) isEvent()          {}

// UnknownEvent carries an unrecognized event type opaquely. It is acknowledged
// and forwarded, never rejected.
type UnknownEvent struct {
	Envelope Envelope
	Raw      json.RawMessage
}

func (e *UnknownEvent) EventID() string   { return e.Envelope.ID }
func (e *UnknownEvent) Type() string      { return e.Envelope.EventType }
func (e *UnknownEvent) Timestamp() string { return e.Envelope.EventTimestamp }
func (e *UnknownEvent) Subdomain() string { return e.Envelope.Account.Subdomain }
func (e *UnknownEvent) isEvent()          {}

type Classifier struct {
	logger ectologger.Logger
}

func NewClassifier(logger ectologger.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify parses raw webhook bytes into a typed event. Structural envelope
// validation runs before any type dispatch; malformed payloads return a 400
// error naming the missing fields.
func (c *Classifier) Classify(raw []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid webhook payload: %s", err.Error())
	}

	if err := validateEnvelope(envelope); err != nil {
		return nil, err
	}

	switch envelope.EventType {
	case EventTicketCreated:
		return c.classifyTicket(envelope, TicketActionCreated)
	case EventTicketUpdated:
		return c.classifyTicket(envelope, TicketActionUpdated)
	case EventTicketStatusChanged:
		return c.classifyTicket(envelope, TicketActionStatusChanged)
	case EventCommentCreated:
		return c.classifyComment(envelope, CommentActionCreated)
	case EventCommentUpdated:
		return c.classifyComment(envelope, CommentActionUpdated)
	default:
		c.logger.WithFields(map[string]any{
			"event_id":   envelope.ID,
			"event_type": envelope.EventType,
		}).Debugf("unrecognized webhook event type '%s', forwarding opaquely", envelope.EventType)
		return &UnknownEvent{Envelope: envelope, Raw: raw}, nil
	}
}

func validateEnvelope(envelope Envelope) error {
	var missing []string
	if envelope.ID == "" {
		missing = append(missing, "id")
	}
	if envelope.EventType == "" {
		missing = append(missing, "event_type")
	}
	if envelope.EventTimestamp == "" {
		missing = append(missing, "event_timestamp")
	}
	if envelope.Account.Subdomain == "" {
		missing = append(missing, "account.subdomain")
	}
	if len(missing) > 0 {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "webhook envelope missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c *Classifier) classifyTicket(envelope Envelope, action TicketAction) (Event, error) {
	if len(envelope.Body.Current) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event missing body.current", envelope.EventType)
	}

	var current TicketPayload
	if err := json.Unmarshal(envelope.Body.Current, &current); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event has malformed body.current: %s", envelope.EventType, err.Error())
	}
	if current.ID == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event missing ticket id", envelope.EventType)
	}

	var previous *TicketPayload
	if len(envelope.Body.Previous) > 0 {
		previous = &TicketPayload{}
		if err := json.Unmarshal(envelope.Body.Previous, previous); err != nil {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event has malformed body.previous: %s", envelope.EventType, err.Error())
		}
	}

	return &TicketEvent{
		Envelope: envelope,
		Action:   action,
		Current:  current,
		Previous: previous,
	}, nil
}

func (c *Classifier) classifyComment(envelope Envelope, action CommentAction) (Event, error) {
	if envelope.Subject == "" {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event missing subject ticket reference", envelope.EventType)
	}
	if len(envelope.Body.Current) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event missing body.current", envelope.EventType)
	}

	var current CommentPayload
	if err := json.Unmarshal(envelope.Body.Current, &current); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event has malformed body.current: %s", envelope.EventType, err.Error())
	}
	if current.ID == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event missing comment id", envelope.EventType)
	}

	var previous *CommentPayload
	if len(envelope.Body.Previous) > 0 {
		previous = &CommentPayload{}
		if err := json.Unmarshal(envelope.Body.Previous, previous); err != nil {
			return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s event has malformed body.previous: %s", envelope.EventType, err.Error())
		}
	}

	return &CommentEvent{
		Envelope: envelope,
		Action:   action,
		Current:  current,
		Previous: previous,
	}, nil
}
