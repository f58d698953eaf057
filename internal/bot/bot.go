// Package bot implements the automated responder that answers visitor
// messages while a session is in bot mode. Matching is deterministic
// keyword lookup, so replies are instant and never depend on an
// external service.
package bot

import (
	"strings"

	"github.com/silverpines/supportchat/internal/constants"
	"github.com/silverpines/supportchat/internal/metrics"
)

// Rule maps a set of keywords to a canned reply. The first rule whose
// keywords match the visitor's message wins, so order matters.
type Rule struct {
	Keywords []string
	Reply    string
}

// Responder produces bot replies from an ordered rule list
type Responder struct {
	rules              []Rule
	fallback           string
	escalationKeywords []string
}

// NewResponder creates a responder with the given rules and fallback reply.
// Empty fallback uses the default. Keywords are lowercased here once, so
// matching stays case-insensitive no matter how the rules were configured.
func NewResponder(rules []Rule, fallback string, escalationKeywords []string) *Responder {
	if fallback == "" {
		fallback = constants.DefaultFallback
	}
	if len(escalationKeywords) == 0 {
		escalationKeywords = constants.DefaultEscalationKeywords
	}
	return &Responder{
		rules:              lowerRules(rules),
		fallback:           fallback,
		escalationKeywords: lowerKeywords(escalationKeywords),
	}
}

// lowerRules copies the rule list with every keyword lowercased,
// leaving the caller's slices untouched.
func lowerRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, rule := range rules {
		out[i] = Rule{
			Keywords: lowerKeywords(rule.Keywords),
			Reply:    rule.Reply,
		}
	}
	return out
}

func lowerKeywords(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = strings.ToLower(kw)
	}
	return out
}

// NewDefaultResponder creates a responder with the built-in facility rules
func NewDefaultResponder() *Responder {
	return NewResponder(DefaultRules(), "", nil)
}

// Respond returns the reply for a visitor message. Matching is
// case-insensitive substring lookup over the rule keywords. When no
// rule matches, the fallback reply is returned, so every visitor
// message gets exactly one reply.
func (r *Responder) Respond(text string) string {
	normalized := strings.ToLower(text)

	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(normalized, kw) {
				metrics.BotReplies.WithLabelValues("rule").Inc()
				return rule.Reply
			}
		}
	}

	metrics.BotReplies.WithLabelValues("fallback").Inc()
	return r.fallback
}

// IsEscalationRequest reports whether the visitor message asks for a
// human. Escalation keywords are checked before the regular rules so a
// message like "help me register" still escalates.
func (r *Responder) IsEscalationRequest(text string) bool {
	normalized := strings.ToLower(text)
	for _, kw := range r.escalationKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule set covering the questions
// visitors ask most often.
func DefaultRules() []Rule {
	return []Rule{
		{
			Keywords: []string{"register", "sign up", "enroll"},
			Reply:    "You can register through the front desk or the family portal. Registration takes about ten minutes and requires a photo ID.",
		},
		{
			Keywords: []string{"donat", "contribute", "give"},
			Reply:    "Donations can be made online through our giving page or dropped off at reception. Every contribution goes directly to resident programs.",
		},
		{
			Keywords: []string{"meal", "menu", "food", "dining", "lunch", "dinner", "breakfast"},
			Reply:    "Meals are served in the main dining room at 8am, noon, and 5:30pm. The weekly menu is posted on the community board and the family portal.",
		},
		{
			Keywords: []string{"room", "apartment", "suite", "availability"},
			Reply:    "Room availability changes often. The residence office keeps the current list and can arrange a tour any weekday between 9am and 4pm.",
		},
		{
			Keywords: []string{"visit", "visiting hours", "see my"},
			Reply:    "Visiting hours are 9am to 8pm every day. Please sign in at the front desk when you arrive.",
		},
		{
			Keywords: []string{"medic", "pharmacy", "prescription", "nurse"},
			Reply:    "Our nursing station is staffed around the clock. For medication questions, the duty nurse can be reached through the front desk.",
		},
		{
			Keywords: []string{"activity", "activities", "event", "schedule", "calendar"},
			Reply:    "The activity calendar is posted every Monday on the community board. Highlights this season include chair yoga, the garden club, and weekly movie nights.",
		},
		{
			Keywords: []string{"hello", "hi ", "good morning", "good afternoon", "good evening"},
			Reply:    "Hello! How can I help you today? You can ask me about meals, visiting hours, activities, or registration.",
		},
		{
			Keywords: []string{"thank"},
			Reply:    "You're very welcome. Is there anything else I can help with?",
		},
	}
}
