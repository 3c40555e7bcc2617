// Package actions provides rule actions for hosts: a small builtin set and
// actions scripted in Lua.
package actions

import (
	"context"
	"log/slog"

	"github.com/liamcoop/businessrules/rules"
)

// Log records its parameters and returns them as action context
func Log(logger *slog.Logger) rules.Action {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
		params := call.Params
		if params == nil {
			params = []any{}
		}
		logger.InfoContext(ctx, "rule action",
			"rule", call.RuleName,
			"params", params,
			"previous", len(call.Previous),
		)
		return &rules.ActionResponse{ActionContext: params}, nil
	}
}

// Halt stops the remaining actions of the rule. Its context is the first
// parameter, or "halted" when called without one.
func Halt(ctx context.Context, call rules.ActionCall) (*rules.ActionResponse, error) {
	var result any = "halted"
	if len(call.Params) > 0 && call.Params[0] != nil {
		result = call.Params[0]
	}
	return &rules.ActionResponse{ActionContext: result, HaltActions: true}, nil
}

// RegisterBuiltins registers log and halt
func RegisterBuiltins(reg *rules.Registry, logger *slog.Logger) error {
	if err := reg.RegisterAction("log", Log(logger)); err != nil {
		return err
	}
	return reg.RegisterAction("halt", Halt)
}
