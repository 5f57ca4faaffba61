package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeActionConfig(t *testing.T) {
	t.Run("notify", func(t *testing.T) {
		cfg, err := DecodeActionConfig(ActionNotify, `{"to":"admins","subject":"hi"}`)
		require.NoError(t, err)
		require.NotNil(t, cfg.Notify)
		assert.Equal(t, "admins", cfg.Notify.To)
		assert.Equal(t, "hi", cfg.Notify.Subject)
		assert.Nil(t, cfg.Webhook)
		assert.Nil(t, cfg.Assign)
	})

	t.Run("auto_assign", func(t *testing.T) {
		cfg, err := DecodeActionConfig(ActionAutoAssign, `{"strategy":"round_robin","fallback_to_admin":true}`)
		require.NoError(t, err)
		require.NotNil(t, cfg.Assign)
		assert.Equal(t, StrategyRoundRobin, cfg.Assign.Strategy)
		assert.True(t, cfg.Assign.FallbackToAdmin)
	})

	t.Run("webhook", func(t *testing.T) {
		cfg, err := DecodeActionConfig(ActionWebhook, `{"url":"https://hook.test","method":"PUT","headers":{"X-Key":"v"}}`)
		require.NoError(t, err)
		require.NotNil(t, cfg.Webhook)
		assert.Equal(t, "https://hook.test", cfg.Webhook.URL)
		assert.Equal(t, "PUT", cfg.Webhook.Method)
		assert.Equal(t, "v", cfg.Webhook.Headers["X-Key"])
	})

	t.Run("update_field", func(t *testing.T) {
		cfg, err := DecodeActionConfig(ActionUpdateField, `{"field":"priority","value":"urgent"}`)
		require.NoError(t, err)
		require.NotNil(t, cfg.UpdateField)
		assert.Equal(t, "priority", cfg.UpdateField.Field)
	})

	t.Run("empty payload decodes to zero config", func(t *testing.T) {
		cfg, err := DecodeActionConfig(ActionCreateTask, "")
		require.NoError(t, err)
		require.NotNil(t, cfg.Task)
		assert.Empty(t, cfg.Task.Title)
	})

	t.Run("unknown action type", func(t *testing.T) {
		_, err := DecodeActionConfig("teleport", `{}`)
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := DecodeActionConfig(ActionNotify, `{not json`)
		assert.Error(t, err)
	})
}

func TestDecodeConditions(t *testing.T) {
	c, err := DecodeConditions(`{"requires_invoice_raised":true,"priority":"high"}`)
	require.NoError(t, err)
	require.NotNil(t, c.RequiresInvoiceRaised)
	assert.True(t, *c.RequiresInvoiceRaised)
	require.NotNil(t, c.Priority)
	assert.Equal(t, "high", *c.Priority)
	assert.Nil(t, c.RequiresInvoicePaid)
	assert.Nil(t, c.RequiresAssignment)

	empty, err := DecodeConditions("")
	require.NoError(t, err)
	assert.Nil(t, empty.RequiresInvoiceRaised)

	_, err = DecodeConditions(`[1,2]`)
	assert.Error(t, err)
}

func TestAutomation_Validate(t *testing.T) {
	tests := []struct {
		name       string
		automation Automation
		wantErr    bool
	}{
		{
			name: "valid notify",
			automation: Automation{
				Trigger:    TriggerOnEnter,
				ActionType: ActionNotify,
				RawConfig:  `{"to":"client","subject":"s"}`,
			},
		},
		{
			name: "valid after_duration with delay",
			automation: Automation{
				Trigger:      TriggerAfterDuration,
				ActionType:   ActionNotify,
				DelayMinutes: 60,
			},
		},
		{
			name: "after_duration without delay",
			automation: Automation{
				Trigger:    TriggerAfterDuration,
				ActionType: ActionNotify,
			},
			wantErr: true,
		},
		{
			name: "unknown trigger",
			automation: Automation{
				Trigger:    "on_full_moon",
				ActionType: ActionNotify,
			},
			wantErr: true,
		},
		{
			name: "unknown action type",
			automation: Automation{
				Trigger:    TriggerOnExit,
				ActionType: "teleport",
			},
			wantErr: true,
		},
		{
			name: "malformed config",
			automation: Automation{
				Trigger:    TriggerOnEnter,
				ActionType: ActionWebhook,
				RawConfig:  `{broken`,
			},
			wantErr: true,
		},
		{
			name: "malformed conditions",
			automation: Automation{
				Trigger:       TriggerOnEnter,
				ActionType:    ActionNotify,
				RawConditions: `nope`,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.automation.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAutomationTrigger_IsValid(t *testing.T) {
	assert.True(t, TriggerOnEnter.IsValid())
	assert.True(t, TriggerOnExit.IsValid())
	assert.True(t, TriggerAfterDuration.IsValid())
	assert.False(t, AutomationTrigger("on_full_moon").IsValid())
	assert.False(t, AutomationTrigger("").IsValid())
}

func TestActionType_IsValid(t *testing.T) {
	for _, a := range []ActionType{ActionNotify, ActionAutoAssign, ActionWebhook, ActionEmail, ActionUpdateField, ActionCreateTask} {
		assert.True(t, a.IsValid(), string(a))
	}
	assert.False(t, ActionType("teleport").IsValid())
}
