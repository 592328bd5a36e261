package domain

import "time"

// SessionStatus tracks a clarification dialogue. Transitions are one-way:
// in_progress -> complete or in_progress -> abandoned.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionComplete   SessionStatus = "complete"
	SessionAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether the session accepts no further answers.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionAbandoned
}

// TurnRole identifies who produced a dialogue turn.
type TurnRole string

const (
	RoleRequester TurnRole = "requester"
	RoleAssistant TurnRole = "assistant"
)

// Turn is a single exchange in a clarification dialogue.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RequiredSpecFields are the structured-spec fields that must be non-empty
// before a clarification session can complete.
var RequiredSpecFields = []string{"product_type", "quantity", "timeline", "budget"}

// ClarifySession is one specification-clarification dialogue. The structured
// spec accumulates fields across turns; a field, once set, is never removed.
type ClarifySession struct {
	ID           string            `json:"id"`
	OriginalText string            `json:"original_text"`
	Spec         map[string]string `json:"spec"`
	Turns        []Turn            `json:"turns"`
	Status       SessionStatus     `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
}

// MissingFields returns the required spec fields that are still empty, in
// declaration order.
func (s *ClarifySession) MissingFields() []string {
	var missing []string
	for _, f := range RequiredSpecFields {
		if s.Spec[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// MergeSpec folds newly extracted fields into the structured spec. Existing
// non-empty values win so fields accumulate and are never cleared.
func (s *ClarifySession) MergeSpec(fields map[string]string) {
	if s.Spec == nil {
		s.Spec = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if s.Spec[k] == "" {
			s.Spec[k] = v
		}
	}
}

// Clone returns a deep copy of the session.
func (s *ClarifySession) Clone() *ClarifySession {
	c := *s
	c.Spec = make(map[string]string, len(s.Spec))
	for k, v := range s.Spec {
		c.Spec[k] = v
	}
	c.Turns = append([]Turn(nil), s.Turns...)
	return &c
}
