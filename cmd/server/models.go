package main

import (
	"github.com/liamcoop/businessrules/rules"
)

// API request and response models

// EvaluateRequest runs rule text blocks against an event
type EvaluateRequest struct {
	// Rules holds one rule text block per entry
	Rules []string `json:"rules"`

	// Params are local bindings that take precedence over fetched values
	Params map[string]any `json:"params,omitempty"`

	// Event is passed to every fetcher and action. Fact fetchers read the
	// subject from it: a string, or an object with a "subject" field.
	Event any `json:"event,omitempty"`
}

// EvaluateResponse holds one result per rule block, in request order
type EvaluateResponse struct {
	Results        []rules.Outcome `json:"results"`
	EvaluationTime string          `json:"evaluationTime"`
}

// ParseRequest checks rule text without evaluating it
type ParseRequest struct {
	Text string `json:"text"`
}

// ActionResponse is one parsed action line
type ActionResponse struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// RuleResponse describes a parsed rule
type RuleResponse struct {
	Name        string           `json:"name"`
	Condition   string           `json:"condition"`
	Inputs      []string         `json:"inputs"`
	Actions     []ActionResponse `json:"actions"`
	RequireBool bool             `json:"requireBool"`
}

type ParseResponse struct {
	Rules []RuleResponse `json:"rules"`
}

// RegistryResponse lists what rule text can reference
type RegistryResponse struct {
	Fetchers []string `json:"fetchers"`
	Actions  []string `json:"actions"`
}

// SetFactRequest stores one fact value
type SetFactRequest struct {
	Value any `json:"value"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
