// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package promotion moves installed package state between environments
// through a strict draft → previewed → approved → executed state machine.
package promotion

import (
	"fmt"
	"slices"

	"github.com/loomhq/loom/internal/storage"
)

// transitions is the full legal transition table. Terminal states are
// executed and rejected; an approved intent can never regress to draft.
var transitions = map[string][]string{
	storage.PromotionDraft:     {storage.PromotionPreviewed, storage.PromotionRejected},
	storage.PromotionPreviewed: {storage.PromotionPreviewed, storage.PromotionApproved, storage.PromotionRejected},
	storage.PromotionApproved:  {storage.PromotionExecuted, storage.PromotionRejected},
	storage.PromotionExecuted:  {},
	storage.PromotionRejected:  {},
}

// TransitionError reports an illegal state transition.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal promotion transition from %s to %s", e.From, e.To)
}

// checkTransition enforces the table centrally; every state move funnels
// through here.
func checkTransition(from, to string) error {
	allowed, known := transitions[from]
	if !known || !slices.Contains(allowed, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
