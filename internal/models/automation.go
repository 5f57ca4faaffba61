package models

import (
	"encoding/json"
	"fmt"
)

// AutomationTrigger is the event that fires an automation
type AutomationTrigger string

const (
	TriggerOnEnter       AutomationTrigger = "on_enter"
	TriggerOnExit        AutomationTrigger = "on_exit"
	TriggerAfterDuration AutomationTrigger = "after_duration"
)

var validTriggers = map[AutomationTrigger]bool{
	TriggerOnEnter:       true,
	TriggerOnExit:        true,
	TriggerAfterDuration: true,
}

// IsValid returns true if the trigger is a known trigger
func (t AutomationTrigger) IsValid() bool {
	return validTriggers[t]
}

// ActionType identifies the side effect an automation performs
type ActionType string

const (
	ActionNotify      ActionType = "notify"
	ActionAutoAssign  ActionType = "auto_assign"
	ActionWebhook     ActionType = "webhook"
	ActionEmail       ActionType = "email"
	ActionUpdateField ActionType = "update_field"
	ActionCreateTask  ActionType = "create_task"
)

var validActionTypes = map[ActionType]bool{
	ActionNotify:      true,
	ActionAutoAssign:  true,
	ActionWebhook:     true,
	ActionEmail:       true,
	ActionUpdateField: true,
	ActionCreateTask:  true,
}

// IsValid returns true if the action type is a known type
func (a ActionType) IsValid() bool {
	return validActionTypes[a]
}

// AssignStrategy selects the accountant for an auto_assign action
type AssignStrategy string

const (
	StrategyLeastBusy  AssignStrategy = "least_busy"
	StrategyRoundRobin AssignStrategy = "round_robin"
	StrategySpecific   AssignStrategy = "specific"
)

// NotifyConfig configures a notify action
type NotifyConfig struct {
	To       string `json:"to"` // client, assigned_accountant, admins
	Subject  string `json:"subject"`
	Template string `json:"template,omitempty"`
}

// AssignConfig configures an auto_assign action
type AssignConfig struct {
	Strategy        AssignStrategy `json:"strategy"`
	AccountantID    int64          `json:"accountant_id,omitempty"` // for strategy "specific"
	FallbackToAdmin bool           `json:"fallback_to_admin,omitempty"`
}

// WebhookConfig configures a webhook action
type WebhookConfig struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"` // GET, POST, PUT
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"` // string, object or list; {{request.*}} tokens substituted
}

// EmailConfig configures an email action
type EmailConfig struct {
	To       string `json:"to,omitempty"` // empty = request owner's email
	Subject  string `json:"subject"`
	Template string `json:"template,omitempty"`
	Body     string `json:"body,omitempty"`
}

// UpdateFieldConfig configures an update_field action
type UpdateFieldConfig struct {
	Field string `json:"field"` // only priority and internal_notes are writable
	Value string `json:"value"`
}

// TaskConfig configures a create_task action
type TaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  *int64 `json:"assignee_id,omitempty"`
}

// ActionConfig is the tagged union of per-action configuration. Exactly one
// member is populated, matching the automation's action type.
type ActionConfig struct {
	Notify      *NotifyConfig      `json:"-"`
	Assign      *AssignConfig      `json:"-"`
	Webhook     *WebhookConfig     `json:"-"`
	Email       *EmailConfig       `json:"-"`
	UpdateField *UpdateFieldConfig `json:"-"`
	Task        *TaskConfig        `json:"-"`
}

// DecodeActionConfig decodes the stored JSON payload into the typed config
// for the given action type.
func DecodeActionConfig(actionType ActionType, raw string) (ActionConfig, error) {
	if raw == "" {
		raw = "{}"
	}
	var cfg ActionConfig
	var err error
	switch actionType {
	case ActionNotify:
		cfg.Notify = &NotifyConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Notify)
	case ActionAutoAssign:
		cfg.Assign = &AssignConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Assign)
	case ActionWebhook:
		cfg.Webhook = &WebhookConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Webhook)
	case ActionEmail:
		cfg.Email = &EmailConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Email)
	case ActionUpdateField:
		cfg.UpdateField = &UpdateFieldConfig{}
		err = json.Unmarshal([]byte(raw), cfg.UpdateField)
	case ActionCreateTask:
		cfg.Task = &TaskConfig{}
		err = json.Unmarshal([]byte(raw), cfg.Task)
	default:
		return cfg, fmt.Errorf("unknown action type: %s", actionType)
	}
	if err != nil {
		return ActionConfig{}, fmt.Errorf("invalid %s config: %w", actionType, err)
	}
	return cfg, nil
}

// AutomationConditions gate automation execution against the request's
// current invoice/assignment/priority state. Nil pointer = no constraint.
type AutomationConditions struct {
	RequiresInvoiceRaised *bool   `json:"requires_invoice_raised,omitempty"`
	RequiresInvoicePaid   *bool   `json:"requires_invoice_paid,omitempty"`
	RequiresAssignment    *bool   `json:"requires_assignment,omitempty"`
	Priority              *string `json:"priority,omitempty"`
}

// DecodeConditions decodes the stored JSON conditions payload
func DecodeConditions(raw string) (AutomationConditions, error) {
	if raw == "" {
		return AutomationConditions{}, nil
	}
	var c AutomationConditions
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return AutomationConditions{}, fmt.Errorf("invalid conditions: %w", err)
	}
	return c, nil
}

// Automation is a configured side effect attached to a step (or to the whole
// workflow when StepID is nil).
type Automation struct {
	ID            int64             `json:"id"`
	WorkflowID    int64             `json:"workflow_id"`
	StepID        *int64            `json:"step_id,omitempty"`
	Trigger       AutomationTrigger `json:"trigger"`
	ActionType    ActionType        `json:"action_type"`
	RawConfig     string            `json:"action_config"`
	RawConditions string            `json:"conditions"`
	DelayMinutes  int               `json:"delay_minutes"`
	IsActive      bool              `json:"is_active"`
}

// Config decodes the automation's typed action configuration
func (a *Automation) Config() (ActionConfig, error) {
	return DecodeActionConfig(a.ActionType, a.RawConfig)
}

// Conditions decodes the automation's gating conditions
func (a *Automation) Conditions() (AutomationConditions, error) {
	return DecodeConditions(a.RawConditions)
}

// Validate checks the automation at authoring time: known trigger and action
// type, decodable config and conditions, sane delay.
func (a *Automation) Validate() error {
	if !a.Trigger.IsValid() {
		return fmt.Errorf("unknown trigger: %s", a.Trigger)
	}
	if !a.ActionType.IsValid() {
		return fmt.Errorf("unknown action type: %s", a.ActionType)
	}
	if a.Trigger == TriggerAfterDuration && a.DelayMinutes <= 0 {
		return fmt.Errorf("after_duration automation requires a positive delay")
	}
	if _, err := a.Config(); err != nil {
		return err
	}
	if _, err := a.Conditions(); err != nil {
		return err
	}
	return nil
}
