package negotiation

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/memohai/negosync/internal/identity"
)

// Generic candidate fields, consulted after any alias-specific ones.
var (
	eventIDFields    = []string{"eventId", "event_id", "messageId", "message_id", "_id", "id"}
	threadIDFields   = []string{"threadId", "thread_id", "negotiationId", "negotiation_id", "conversationId", "thread._id", "thread.id"}
	bidIDFields      = []string{"bidId", "bid_id", "bid._id", "bid.id"}
	loadIDFields     = []string{"loadId", "load_id", "shipmentId", "load._id", "load.id"}
	senderIDFields   = []string{"senderId", "sender_id", "userId", "user_id", "fromId", "from_id", "createdBy", "sender._id", "sender.id", "user._id", "user.id"}
	senderNameFields = []string{"senderName", "sender_name", "userName", "user_name", "fromName", "sender.name", "user.name", "sender.compName", "name"}
	roleFields       = []string{"senderRole", "sender_role", "senderType", "sender_type", "role", "userType", "fromRole", "sender.role", "sender.type", "user.role"}
	messageFields    = []string{"message", "text", "content", "body", "negotiationMessage", "note", "comment"}
	rateFields       = []string{"rate", "newRate", "counterRate", "counterOffer", "proposedRate", "bidAmount", "amount", "price"}
	prevRateFields   = []string{"previousRate", "previous_rate", "prevRate", "oldRate", "originalRate", "lastRate"}
	timeFields       = []string{"occurredAt", "occurred_at", "timestamp", "sentAt", "sent_at", "updatedAt", "updated_at", "createdAt", "created_at", "time"}
	selfFlagFields   = []string{"isOwn", "isSelf", "self", "fromSelf", "isMine"}
)

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("negosync.negotiation.event"))

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the processing-time source used when a payload carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// Normalizer maps raw alias payloads onto Event. It holds no mutable state and is safe for
// concurrent use.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize resolves the canonical event from raw. Optional fields that are missing never fail;
// a payload without any sender hint or without any content returns a *MalformedEventError.
func (n *Normalizer) Normalize(raw RawEvent, alias string, origin Origin) (Event, error) {
	if len(raw) == 0 {
		return Event{}, &MalformedEventError{Alias: alias, Reason: "empty payload"}
	}
	profile, _ := LookupProfile(alias)

	ev := Event{
		ThreadID: readString(raw, threadIDFields...),
		BidID:    readString(raw, bidIDFields...),
		LoadID:   readString(raw, loadIDFields...),
		Origin:   origin,
		Alias:    alias,
		SelfFlag: readBool(raw, selfFlagFields...),
	}

	ev.SenderRole = profile.Role
	if ev.SenderRole == "" {
		ev.SenderRole = identity.ParseRole(readString(raw, roleFields...))
	}
	// "from" is either a role label or a sender id depending on the producer.
	from := readString(raw, "from")
	fromRole := identity.ParseRole(from)
	if ev.SenderRole == identity.RoleUnknown && fromRole != identity.RoleUnknown {
		ev.SenderRole = fromRole
	}

	ev.SenderID = readString(raw, concat(profile.IDFields, senderIDFields)...)
	if ev.SenderID == "" && from != "" && fromRole == identity.RoleUnknown {
		ev.SenderID = from
	}
	ev.SenderName = readString(raw, concat(profile.NameFields, senderNameFields)...)
	ev.Message = readString(raw, concat(profile.MessageFields, messageFields)...)
	if rate, ok := readFloat(raw, concat(profile.RateFields, rateFields)...); ok {
		ev.Rate = &rate
	}
	if prev, ok := readFloat(raw, prevRateFields...); ok {
		ev.PreviousRate = &prev
	}

	if ev.SenderID == "" && ev.SenderName == "" && ev.SenderRole == identity.RoleUnknown {
		return Event{}, &MalformedEventError{Alias: alias, Reason: "no sender id, name, or role"}
	}
	if ev.Message == "" && ev.Rate == nil {
		return Event{}, &MalformedEventError{Alias: alias, Reason: "no message or rate"}
	}

	if ev.Message == "" && profile.Verb != "" {
		ev.Message = ev.SenderRole.DefaultName() + " " + profile.Verb + " " + FormatRate(*ev.Rate)
	}
	if ev.SenderName == "" {
		ev.SenderName = ev.SenderRole.DefaultName()
	}
	if ev.SenderID == "" {
		ev.SenderID = "anon:" + ev.SenderRole.String() + ":" + ev.SenderName
	}

	occurredAt, hasTime := readTime(raw, timeFields...)
	if hasTime {
		ev.OccurredAt = occurredAt
	} else {
		ev.OccurredAt = n.now().UTC()
	}

	ev.EventID = readString(raw, eventIDFields...)
	if ev.EventID == "" || ev.EventID == ev.BidID || ev.EventID == ev.ThreadID {
		ev.EventID = syntheticID(ev, hasTime)
	}
	return ev, nil
}

// FormatRate renders an amount as dollars with thousands separators ("$2,800", "$1,250.50").
func FormatRate(rate float64) string {
	p := message.NewPrinter(language.English)
	if rate == math.Trunc(rate) && math.Abs(rate) < 1e15 {
		return p.Sprintf("$%d", int64(rate))
	}
	return p.Sprintf("$%.2f", rate)
}

// syntheticID derives a stable id so duplicate deliveries of the same update collapse. The alias
// and origin are excluded because the same update is pushed under several aliases and also
// returned by the poll endpoint. Content is always part of the id: updates on one bid often
// share a timestamp.
func syntheticID(ev Event, hasTime bool) string {
	rate := ""
	if ev.Rate != nil {
		rate = strconv.FormatFloat(*ev.Rate, 'f', -1, 64)
	}
	parts := []string{ev.ThreadID, ev.BidID, ev.LoadID, ev.SenderID, rate, ev.Message}
	if hasTime {
		parts = append(parts, strconv.FormatInt(ev.OccurredAt.UnixMilli(), 10))
	}
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

func concat(first, second []string) []string {
	if len(first) == 0 {
		return second
	}
	out := make([]string, 0, len(first)+len(second))
	out = append(out, first...)
	return append(out, second...)
}
