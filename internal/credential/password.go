// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package credential

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Comparator checks a plaintext secret against a stored one-way digest.
// Compare may be slow (an intentionally expensive hash) and should honour ctx.
// It returns (false, nil) on mismatch and an error only for failures such as
// a malformed digest.
type Comparator interface {
	Compare(ctx context.Context, plaintext, digest string) (bool, error)
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(ctx context.Context, plaintext, digest string) (bool, error)

// Compare calls f.
func (f ComparatorFunc) Compare(ctx context.Context, plaintext, digest string) (bool, error) {
	return f(ctx, plaintext, digest)
}

// PasswordPolicy decides secret expiry and reuse.
type PasswordPolicy struct {
	cfg        *configHolder
	comparator Comparator
	clock      Clock
	observer   Observer
	logger     *slog.Logger
}

// NewPasswordPolicy creates a PasswordPolicy that compares candidates with cmp.
func NewPasswordPolicy(cmp Comparator, opts ...Option) (*PasswordPolicy, error) {
	if cmp == nil {
		return nil, oops.Code("POLICY_NIL_COMPARATOR").Errorf("comparator is required")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &PasswordPolicy{
		cfg:        newConfigHolder(o.config),
		comparator: cmp,
		clock:      o.clock,
		observer:   o.observer,
		logger:     o.logger,
	}, nil
}

// Config returns the current configuration snapshot.
func (p *PasswordPolicy) Config() Config {
	return p.cfg.load()
}

// Configure merges o over the current configuration. An invalid result is
// rejected and the previous configuration kept.
func (p *PasswordPolicy) Configure(o Override) error {
	return p.cfg.configure(o)
}

// ExpiresAt returns when the secret in rec expires: ChangedAt plus
// ExpiryDays calendar days in ChangedAt's location. ok is false when
// ChangedAt is not set.
func (p *PasswordPolicy) ExpiresAt(rec *Record) (expiry time.Time, ok bool) {
	if rec == nil || rec.ChangedAt == nil {
		return time.Time{}, false
	}
	return rec.ChangedAt.AddDate(0, 0, p.cfg.load().ExpiryDays), true
}

// IsExpired reports whether the current time is strictly after the expiry
// instant. Records without ChangedAt never expire.
func (p *PasswordPolicy) IsExpired(rec *Record) bool {
	expiry, ok := p.ExpiresAt(rec)
	if !ok {
		return false
	}
	return p.clock.Now().After(expiry)
}

// RecentHistory returns a copy of the last HistoryLimit entries of history.
func (p *PasswordPolicy) RecentHistory(history []string) []string {
	limit := p.cfg.load().HistoryLimit
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	recent := make([]string, len(history))
	copy(recent, history)
	return recent
}

// IsReused reports whether candidate matches any of the last HistoryLimit
// digests in history. Entries are compared in the order given and the first
// match wins. Comparator errors abort the check and are returned.
func (p *PasswordPolicy) IsReused(ctx context.Context, candidate string, history []string) (bool, error) {
	for i, digest := range p.RecentHistory(history) {
		if err := ctx.Err(); err != nil {
			return false, oops.Code("POLICY_COMPARE_FAILED").
				With("index", i).
				Wrap(err)
		}
		match, err := p.comparator.Compare(ctx, candidate, digest)
		if err != nil {
			return false, oops.Code("POLICY_COMPARE_FAILED").
				With("index", i).
				Wrap(err)
		}
		if match {
			p.observer.ReuseDetected()
			p.logger.DebugContext(ctx, "candidate secret found in history", "index", i)
			return true, nil
		}
	}
	return false, nil
}

// RotateHistory records a secret change on rec: the outgoing digest is
// appended to History, Digest is replaced and ChangedAt set to now. Callers
// check IsReused first.
//
// History is trimmed to the last HistoryLimit entries at the time of the
// call. Dropped digests are gone for good: raising HistoryLimit later
// widens the reuse window only as new changes refill History.
func (p *PasswordPolicy) RotateHistory(rec *Record, newDigest string, now time.Time) *Record {
	if rec == nil {
		return nil
	}
	if rec.Digest != "" {
		rec.History = append(rec.History, rec.Digest)
	}
	rec.History = p.RecentHistory(rec.History)
	rec.Digest = newDigest
	changed := now
	rec.ChangedAt = &changed
	return rec
}
