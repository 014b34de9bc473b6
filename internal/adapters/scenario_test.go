package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarioReject(t *testing.T) {
	s := ParseScenario("Acme Launch [REJECT:budget too low]")
	assert.True(t, s.ShouldReject)
	assert.Equal(t, "budget too low", s.RejectionReason)

	s = ParseScenario("Acme Launch [REJECT]")
	assert.True(t, s.ShouldReject)
	assert.Equal(t, DefaultRejectionReason, s.RejectionReason)
}

func TestParseScenarioCaseInsensitive(t *testing.T) {
	s := ParseScenario("[reject] [delay:5] [async] [outage]")
	assert.True(t, s.ShouldReject)
	assert.Equal(t, 5, s.DelaySeconds)
	assert.True(t, s.UseAsync)
	assert.True(t, s.SimulateOutage)
}

func TestParseScenarioHITL(t *testing.T) {
	s := ParseScenario("Campaign [HITL:15m]")
	assert.True(t, s.SimulateHITL)
	assert.Equal(t, 15, s.HITLDelayMinutes)
	assert.Empty(t, s.HITLOutcome)

	s = ParseScenario("Campaign [HITL:5m:reject]")
	assert.True(t, s.SimulateHITL)
	assert.Equal(t, 5, s.HITLDelayMinutes)
	assert.Equal(t, "reject", s.HITLOutcome)
}

func TestParseScenarioErrorAndQuestion(t *testing.T) {
	s := ParseScenario("[ERROR:kevel timeout] rest of name")
	assert.Equal(t, "kevel timeout", s.ErrorMessage)

	s = ParseScenario("[QUESTION:which geo should this run in?]")
	assert.True(t, s.ShouldAskQuestion)
	assert.Equal(t, "which geo should this run in?", s.QuestionText)
}

func TestParseScenarioDelivery(t *testing.T) {
	s := ParseScenario("[DELIVERY:slow]")
	assert.Equal(t, "slow", s.DeliveryProfile)

	s = ParseScenario("[DELIVERY%:37.5]")
	require.NotNil(t, s.DeliveryPercentage)
	assert.Equal(t, 37.5, *s.DeliveryPercentage)
}

func TestParseScenarioCombined(t *testing.T) {
	// Every keyword is parsed; precedence is the caller's concern.
	s := ParseScenario("Big Brand [REJECT:no] [DELAY:3] [ASYNC] [DELIVERY:fast]")
	assert.True(t, s.ShouldReject)
	assert.Equal(t, 3, s.DelaySeconds)
	assert.True(t, s.UseAsync)
	assert.Equal(t, "fast", s.DeliveryProfile)
}

func TestParseScenarioPlainText(t *testing.T) {
	s := ParseScenario("Perfectly Ordinary Brand Name")
	assert.Equal(t, Scenario{}, s)
	assert.Equal(t, Scenario{}, ParseScenario(""))
}

func TestParseCreativeAction(t *testing.T) {
	assert.Nil(t, ParseCreativeAction(""))
	assert.Nil(t, ParseCreativeAction("hero_banner_300x250"))

	a := ParseCreativeAction("hero [APPROVE]")
	require.NotNil(t, a)
	assert.Equal(t, "approve", a.Action)

	a = ParseCreativeAction("hero [REJECT:wrong dimensions]")
	require.NotNil(t, a)
	assert.Equal(t, "reject", a.Action)
	assert.Equal(t, "wrong dimensions", a.Reason)

	a = ParseCreativeAction("hero [REJECT]")
	require.NotNil(t, a)
	assert.Equal(t, DefaultRejectionReason, a.Reason)

	a = ParseCreativeAction("hero [ASK:click_url]")
	require.NotNil(t, a)
	assert.Equal(t, "ask", a.Action)
	assert.Equal(t, "click_url", a.Reason)
}
