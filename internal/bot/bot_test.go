package bot

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/silverpines/supportchat/internal/constants"
)

func TestRespond_KeywordMatch(t *testing.T) {
	r := NewDefaultResponder()

	reply := r.Respond("What time is lunch served?")
	assert.Contains(t, reply, "main dining room")

	reply = r.Respond("How do I register my mother?")
	assert.Contains(t, reply, "front desk or the family portal")
}

func TestRespond_CaseInsensitive(t *testing.T) {
	r := NewDefaultResponder()

	lower := r.Respond("what about dinner?")
	upper := r.Respond("WHAT ABOUT DINNER?")
	assert.Equal(t, lower, upper)
	assert.Contains(t, lower, "dining room")
}

func TestRespond_FirstRuleWins(t *testing.T) {
	r := NewResponder([]Rule{
		{Keywords: []string{"meal"}, Reply: "first"},
		{Keywords: []string{"meal", "menu"}, Reply: "second"},
	}, "", nil)

	assert.Equal(t, "first", r.Respond("meal please"))
	assert.Equal(t, "second", r.Respond("where is the menu"))
}

func TestRespond_Fallback(t *testing.T) {
	r := NewDefaultResponder()

	reply := r.Respond("xyzzy plugh")
	assert.Equal(t, constants.DefaultFallback, reply)
}

func TestRespond_CustomFallback(t *testing.T) {
	r := NewResponder(nil, "I did not catch that.", nil)

	assert.Equal(t, "I did not catch that.", r.Respond("anything at all"))
}

func TestRespond_PartialWordStem(t *testing.T) {
	r := NewDefaultResponder()

	// "donat" matches donate, donation, donating
	assert.Contains(t, r.Respond("I want to make a donation"), "giving page")
	assert.Contains(t, r.Respond("how do I donate?"), "giving page")
}

func TestIsEscalationRequest(t *testing.T) {
	r := NewDefaultResponder()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"plain support request", "support", true},
		{"uppercase", "SUPPORT please", true},
		{"talk to a human", "can I talk to a human", true},
		{"agent", "get me an agent", true},
		{"ordinary question", "what time is breakfast", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsEscalationRequest(tt.text))
		})
	}
}

func TestIsEscalationRequest_BeatsRegularRules(t *testing.T) {
	r := NewDefaultResponder()

	// "help me register" matches the register rule too, but escalation
	// keywords take priority in the routing layer.
	assert.True(t, r.IsEscalationRequest("help me register"))
}

func TestIsEscalationRequest_CustomKeywords(t *testing.T) {
	r := NewResponder(nil, "", []string{"operator"})

	assert.True(t, r.IsEscalationRequest("operator please"))
	assert.False(t, r.IsEscalationRequest("support"))
}

func TestIsEscalationRequest_MixedCaseConfiguredKeyword(t *testing.T) {
	r := NewResponder(nil, "", []string{"Help", "OPERATOR"})

	// Configured keywords are normalized too, not just the input
	assert.True(t, r.IsEscalationRequest("i need help please"))
	assert.True(t, r.IsEscalationRequest("HELP"))
	assert.True(t, r.IsEscalationRequest("an operator, please"))
}

func TestRespond_MixedCaseConfiguredKeyword(t *testing.T) {
	r := NewResponder([]Rule{
		{Keywords: []string{"Visiting Hours"}, Reply: "9am to 8pm"},
	}, "", nil)

	assert.Equal(t, "9am to 8pm", r.Respond("what are the visiting hours?"))
	assert.Equal(t, "9am to 8pm", r.Respond("VISITING HOURS"))
}

func TestRespond_NeverEmpty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("every message gets a non-empty reply", prop.ForAll(
		func(text string) bool {
			r := NewDefaultResponder()
			return r.Respond(text) != ""
		},
		gen.AnyString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
