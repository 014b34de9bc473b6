package adapters

import (
	"regexp"
	"strconv"
	"strings"
)

// Scenario is the ephemeral test behavior parsed from a free-text field such
// as a brand name or creative name. It is rebuilt on every operation call;
// a serialized form may ride along inside a stored media-buy record so that
// delivery reporting can replay the same profile later.
type Scenario struct {
	ShouldReject    bool
	RejectionReason string

	DelaySeconds int

	UseAsync bool

	SimulateHITL     bool
	HITLDelayMinutes int
	HITLOutcome      string

	ErrorMessage string

	ShouldAskQuestion bool
	QuestionText      string

	DeliveryProfile    string
	SimulateOutage     bool
	DeliveryPercentage *float64
}

// CreativeAction is a per-creative override parsed from a single asset name.
// Each asset in a batch is scanned independently, so one call can yield
// mixed outcomes.
type CreativeAction struct {
	Action string // approve|reject|ask
	Reason string // rejection reason, or the field being asked for
}

// DefaultRejectionReason is used when [REJECT] carries no reason of its own.
const DefaultRejectionReason = "Rejected by test scenario"

var (
	rejectRe      = regexp.MustCompile(`(?i)\[REJECT(?::([^\]]+))?\]`)
	delayRe       = regexp.MustCompile(`(?i)\[DELAY:(\d+)\]`)
	asyncRe       = regexp.MustCompile(`(?i)\[ASYNC\]`)
	hitlRe        = regexp.MustCompile(`(?i)\[HITL:(\d+)m(?::([a-z_]+))?\]`)
	errorRe       = regexp.MustCompile(`(?i)\[ERROR:([^\]]+)\]`)
	questionRe    = regexp.MustCompile(`(?i)\[QUESTION:([^\]]+)\]`)
	approveRe     = regexp.MustCompile(`(?i)\[APPROVE\]`)
	askRe         = regexp.MustCompile(`(?i)\[ASK:([^\]]+)\]`)
	deliveryRe    = regexp.MustCompile(`(?i)\[DELIVERY:([a-z_]+)\]`)
	deliveryPctRe = regexp.MustCompile(`(?i)\[DELIVERY%:(\d+(?:\.\d+)?)\]`)
	outageRe      = regexp.MustCompile(`(?i)\[OUTAGE\]`)
)

// ParseScenario scans text for bracketed test tokens, case-insensitively.
// The reject check runs first: a [REJECT] token overrides every other
// keyword when the scenario is applied.
func ParseScenario(text string) Scenario {
	var s Scenario
	if text == "" {
		return s
	}

	if m := rejectRe.FindStringSubmatch(text); m != nil {
		s.ShouldReject = true
		s.RejectionReason = strings.TrimSpace(m[1])
		if s.RejectionReason == "" {
			s.RejectionReason = DefaultRejectionReason
		}
	}

	if m := delayRe.FindStringSubmatch(text); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			s.DelaySeconds = secs
		}
	}

	if asyncRe.MatchString(text) {
		s.UseAsync = true
	}

	if m := hitlRe.FindStringSubmatch(text); m != nil {
		s.SimulateHITL = true
		if mins, err := strconv.Atoi(m[1]); err == nil {
			s.HITLDelayMinutes = mins
		}
		s.HITLOutcome = strings.ToLower(m[2])
	}

	if m := errorRe.FindStringSubmatch(text); m != nil {
		s.ErrorMessage = strings.TrimSpace(m[1])
	}

	if m := questionRe.FindStringSubmatch(text); m != nil {
		s.ShouldAskQuestion = true
		s.QuestionText = strings.TrimSpace(m[1])
	}

	if m := deliveryRe.FindStringSubmatch(text); m != nil {
		s.DeliveryProfile = strings.ToLower(m[1])
	}

	if m := deliveryPctRe.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			s.DeliveryPercentage = &pct
		}
	}

	if outageRe.MatchString(text) {
		s.SimulateOutage = true
	}

	return s
}

// ParseCreativeAction scans one creative name for a per-creative override.
// Returns nil when the name carries no token.
func ParseCreativeAction(name string) *CreativeAction {
	if name == "" {
		return nil
	}
	if approveRe.MatchString(name) {
		return &CreativeAction{Action: "approve"}
	}
	if m := rejectRe.FindStringSubmatch(name); m != nil {
		reason := strings.TrimSpace(m[1])
		if reason == "" {
			reason = DefaultRejectionReason
		}
		return &CreativeAction{Action: "reject", Reason: reason}
	}
	if m := askRe.FindStringSubmatch(name); m != nil {
		return &CreativeAction{Action: "ask", Reason: strings.TrimSpace(m[1])}
	}
	return nil
}
