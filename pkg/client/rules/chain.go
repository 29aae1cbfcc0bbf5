// SPDX-FileCopyrightText: Copyright 2026 The oauthkit Authors
// SPDX-License-Identifier: Apache-2.0

// Package rules implements the ordered validation chain applied to client
// registration and configuration parameters per RFC 7591.
//
// Each Rule inspects the incoming parameters, may normalize values into
// the validated output bag, and may call next before or after its own
// logic. Registration order is execution order; there is no topological
// dependency mechanism, so rules that read another rule's output (for
// example the request_uris rule reading response_types) must be
// registered after it. The chain is strict: the first failure aborts the
// whole run with no partial application.
package rules

import (
	"context"

	"github.com/oauthkit/oauthkit/pkg/databag"
	"github.com/oauthkit/oauthkit/pkg/id"
)

// Handler is the continuation passed to each rule: the remainder of the
// chain, ending in a terminal no-op.
type Handler func(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag) (*databag.Bag, error)

// Rule validates or normalizes one concern of the registration
// parameters. Implementations may call next before or after their own
// logic, enabling both pre- and post-processing.
type Rule interface {
	Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error)
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error)

// Handle implements Rule.
func (f RuleFunc) Handle(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag, next Handler) (*databag.Bag, error) {
	return f(ctx, clientID, incoming, validated, next)
}

// Chain is an ordered rule pipeline.
type Chain struct {
	rules []Rule
}

// NewChain creates a chain executing the given rules in order.
func NewChain(ruleList ...Rule) *Chain {
	return &Chain{rules: ruleList}
}

// Append adds a rule at the end of the chain.
func (c *Chain) Append(r Rule) {
	c.rules = append(c.rules, r)
}

// Process runs the chain over the incoming parameters and returns the
// validated output bag. The terminal handler simply returns the validated
// bag, making termination explicit at the call site.
func (c *Chain) Process(ctx context.Context, clientID id.ClientID, incoming *databag.Bag) (*databag.Bag, error) {
	terminal := Handler(func(_ context.Context, _ id.ClientID, _, validated *databag.Bag) (*databag.Bag, error) {
		return validated, nil
	})
	next := terminal
	for i := len(c.rules) - 1; i >= 0; i-- {
		rule := c.rules[i]
		tail := next
		next = func(ctx context.Context, clientID id.ClientID, incoming, validated *databag.Bag) (*databag.Bag, error) {
			return rule.Handle(ctx, clientID, incoming, validated, tail)
		}
	}
	return next(ctx, clientID, incoming, databag.New())
}
