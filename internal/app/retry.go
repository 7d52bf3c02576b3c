package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"shiftdesk/api/internal/mailbox"
	"shiftdesk/api/internal/store"
)

// The document backend offers no conditional writes, so a table mutation is
// emulated compare-and-swap: download, apply a pure patch, replace the row,
// re-download, and check that the patch's post-condition actually landed. A
// concurrent writer can silently drop our replace; the verify step catches
// that and the whole cycle retries from a fresh download, bounded.
//
// The compare is implicit (expected shape, not a version token), so success
// only guarantees the caller's own patch landed, nothing else about the row.

type tableInit func() (mailbox.Table, error)
type tablePatch func(mailbox.Table) (mailbox.Table, error)
type tableVerify func(mailbox.Table) bool

func (s *Service) mutateTable(ctx context.Context, key, clientID string, init tableInit, patch tablePatch, verify tableVerify) (mailbox.Table, error) {
	attempts := s.cfg.MutationRetries
	if attempts <= 0 {
		attempts = 3
	}

	for attempt := 0; attempt < attempts; attempt++ {
		current, err := s.loadTable(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			if init == nil {
				return mailbox.Table{}, errNotFound("mailbox table not found")
			}
			current, err = init()
		}
		if err != nil {
			// Store failures consume an attempt; anything else from init is terminal.
			var domainErr *DomainError
			if errors.As(err, &domainErr) && domainErr.Code != "STORE_ERROR" {
				return mailbox.Table{}, err
			}
			continue
		}

		next, err := patch(current)
		if err != nil {
			// Patch errors are decided against the freshest download: terminal.
			return mailbox.Table{}, err
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return mailbox.Table{}, errStore(err)
		}
		if _, err := s.store.PutDocument(ctx, key, raw, clientID); err != nil {
			continue
		}

		persisted, err := s.loadTable(ctx, key)
		if err != nil {
			continue
		}
		if verify(persisted) {
			return persisted, nil
		}
	}

	return mailbox.Table{}, domainError(http.StatusConflict, "MAILBOX_CASE_ACTION_CONFLICT", "mailbox mutation lost to concurrent writers", nil)
}
