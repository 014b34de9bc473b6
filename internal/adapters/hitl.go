package adapters

import (
	"math/rand"
	"time"
)

// HITL operating modes.
const (
	ModeImmediate = "immediate"
	ModeSync      = "sync"
	ModeAsync     = "async"
)

// HITLConfig drives the human-in-the-loop simulation of the mock adapter.
// Nested under "hitl_config" in the adapter config.
type HITLConfig struct {
	Enabled            bool               `json:"enabled"`
	Mode               string             `json:"mode"`
	Sync               SyncSettings       `json:"sync_settings"`
	Async              AsyncSettings      `json:"async_settings"`
	OperationModes     map[string]string  `json:"operation_modes"`
	ApprovalSimulation ApprovalSimulation `json:"approval_simulation"`
}

type SyncSettings struct {
	DelayMS          int  `json:"delay_ms"`
	StreamingUpdates bool `json:"streaming_updates"`
	UpdateIntervalMS int  `json:"update_interval_ms"`
}

type AsyncSettings struct {
	AutoComplete        bool   `json:"auto_complete"`
	AutoCompleteDelayMS int    `json:"auto_complete_delay_ms"`
	WebhookURL          string `json:"webhook_url"`
	WebhookOnComplete   bool   `json:"webhook_on_complete"`
}

// ApprovalSimulation decides randomized approve/reject outcomes at the end
// of a sync delay or an async auto-completion.
type ApprovalSimulation struct {
	Enabled             bool     `json:"enabled"`
	ApprovalProbability float64  `json:"approval_probability"`
	RejectionReasons    []string `json:"rejection_reasons"`
}

// ModeFor resolves the effective mode for one operation: the per-operation
// override wins over the global mode; with HITL disabled everything is
// immediate.
func (c *HITLConfig) ModeFor(operation string) string {
	if c == nil || !c.Enabled {
		return ModeImmediate
	}
	if m, ok := c.OperationModes[operation]; ok && m != "" {
		return m
	}
	if c.Mode != "" {
		return c.Mode
	}
	return ModeImmediate
}

// SyncDelay returns the configured sync-mode delay.
func (c *HITLConfig) SyncDelay() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.Sync.DelayMS) * time.Millisecond
}

// AutoCompleteDelay returns the async auto-completion delay.
func (c *HITLConfig) AutoCompleteDelay() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.Async.AutoCompleteDelayMS) * time.Millisecond
}

// Decide rolls the approval simulation. With the simulation disabled the
// outcome is always approved.
func (a ApprovalSimulation) Decide(rng *rand.Rand) (approved bool, reason string) {
	if !a.Enabled {
		return true, ""
	}
	if rng.Float64() < a.ApprovalProbability {
		return true, ""
	}
	if len(a.RejectionReasons) == 0 {
		return false, DefaultRejectionReason
	}
	return false, a.RejectionReasons[rng.Intn(len(a.RejectionReasons))]
}
