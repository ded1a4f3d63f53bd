package store

import (
	"context"
	"os"
	"time"
	"unicode/utf8"

	"github.com/rogersnm/griddle/internal/commitmsg"
	"github.com/rogersnm/griddle/internal/fault"
	"github.com/rogersnm/griddle/internal/id"
	"github.com/rogersnm/griddle/internal/idem"
	"github.com/rogersnm/griddle/internal/model"
)

// CreateParams describes a create_entry request. ID is optional; when empty
// it is derived from Date (defaulting to today) and the title. Token is the
// idempotency token and is excluded from the payload fingerprint.
type CreateParams struct {
	ID       string         `json:"id,omitempty"`
	Date     time.Time      `json:"date,omitempty"`
	Meta     model.Metadata `json:"meta"`
	Protocol string         `json:"protocol,omitempty"`
	Token    string         `json:"-"`
}

type ObservationParams struct {
	EntryID      string             `json:"entry_id"`
	Note         string             `json:"note"`
	At           time.Time          `json:"at,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
	Token        string             `json:"-"`
}

type OutcomeParams struct {
	EntryID string        `json:"entry_id"`
	Outcome model.Outcome `json:"outcome"`
	Token   string        `json:"-"`
}

type ProtocolParams struct {
	EntryID  string `json:"entry_id"`
	Protocol string `json:"protocol"`
	Token    string `json:"-"`
}

type DeleteParams struct {
	EntryID string `json:"entry_id"`
	Token   string `json:"-"`
}

// resolveToken reports whether an interrupted attempt for token already
// reached its commit, recovering the revision from the token trailer in
// history. It backs the idempotency coordinator's pending-record path.
func (s *Store) resolveToken(token, entryID string) func() (idem.Result, bool, error) {
	return func() (idem.Result, bool, error) {
		rev, ok, err := s.repo.FindByToken(token)
		if err != nil || !ok {
			return idem.Result{}, false, err
		}
		return idem.Result{EntryID: entryID, Revision: rev}, true, nil
	}
}

// CreateEntry creates a new entry and commits it as one revision. It fails
// with AlreadyExists when the id is live and never touches the existing
// entry in that case.
func (s *Store) CreateEntry(ctx context.Context, p CreateParams) (entryID, revision string, err error) {
	entryID = p.ID
	if entryID == "" {
		date := p.Date
		if date.IsZero() {
			date = s.now()
		}
		if entryID, err = id.New(date, p.Meta.Title); err != nil {
			return "", "", err
		}
	}
	if err := id.Validate(entryID); err != nil {
		return "", "", err
	}
	if err := p.Meta.Validate(); err != nil {
		return "", "", err
	}
	if len(p.Protocol) > model.MaxProtocolLen {
		return "", "", fault.New(fault.SchemaError, "protocol exceeds %d bytes", model.MaxProtocolLen)
	}

	res, err := s.tokens.Execute(ctx, p.Token, idem.HashPayload("create_entry", p), func() (idem.Result, error) {
		var rev string
		err := s.locks.WithLock(ctx, entryID, func() error {
			abs := s.absPath(entryPath(entryID))
			if _, err := os.Stat(abs); err == nil {
				return fault.New(fault.AlreadyExists, "entry %s already exists", entryID)
			} else if !os.IsNotExist(err) {
				return fault.Wrap(fault.StorageIO, err, "checking entry %s", entryID)
			}

			now := s.now()
			e := &model.Entry{
				ID:        entryID,
				CreatedBy: s.author.Name,
				CreatedAt: now,
				UpdatedAt: now,
				Metadata:  p.Meta,
			}
			if err := s.writeEntry(entryID, e, p.Protocol); err != nil {
				return err
			}
			var cerr error
			rev, cerr = s.repo.Commit([]string{entryPath(entryID)},
				commitmsg.WithToken(commitmsg.Create(entryID, p.Meta.Title), p.Token), s.author)
			return cerr
		})
		if err != nil {
			return idem.Result{}, err
		}
		s.log.Info("created entry", "id", entryID, "revision", rev)
		return idem.Result{EntryID: entryID, Revision: rev}, nil
	}, s.resolveToken(p.Token, entryID))
	if err != nil {
		return "", "", err
	}
	return res.EntryID, res.Revision, nil
}

// AppendObservation appends one observation to the entry's ordered log.
// The observation timestamp is server-assigned at execution time unless the
// caller supplies one for backfill.
func (s *Store) AppendObservation(ctx context.Context, p ObservationParams) (string, error) {
	if err := id.Validate(p.EntryID); err != nil {
		return "", err
	}
	obs := model.Observation{At: p.At, Note: p.Note, Measurements: p.Measurements}
	if err := obs.Validate(); err != nil {
		return "", err
	}

	res, err := s.tokens.Execute(ctx, p.Token, idem.HashPayload("append_observation", p), func() (idem.Result, error) {
		var rev string
		err := s.locks.WithLock(ctx, p.EntryID, func() error {
			e, body, err := s.readEntry(p.EntryID)
			if err != nil {
				return err
			}
			if obs.At.IsZero() {
				obs.At = s.now()
			}
			e.Observations = append(e.Observations, obs)
			e.UpdatedAt = s.now()
			if err := s.writeEntry(p.EntryID, e, body); err != nil {
				return err
			}
			var cerr error
			rev, cerr = s.repo.Commit([]string{entryPath(p.EntryID)},
				commitmsg.WithToken(commitmsg.Observation(p.EntryID, p.Note), p.Token), s.author)
			return cerr
		})
		if err != nil {
			return idem.Result{}, err
		}
		s.log.Info("appended observation", "id", p.EntryID, "revision", rev)
		return idem.Result{EntryID: p.EntryID, Revision: rev}, nil
	}, s.resolveToken(p.Token, p.EntryID))
	if err != nil {
		return "", err
	}
	return res.Revision, nil
}

// UpdateOutcome replaces the entry's outcome block wholesale.
func (s *Store) UpdateOutcome(ctx context.Context, p OutcomeParams) (string, error) {
	if err := id.Validate(p.EntryID); err != nil {
		return "", err
	}
	if err := p.Outcome.Validate(); err != nil {
		return "", err
	}

	res, err := s.tokens.Execute(ctx, p.Token, idem.HashPayload("update_outcomes", p), func() (idem.Result, error) {
		var rev string
		err := s.locks.WithLock(ctx, p.EntryID, func() error {
			e, body, err := s.readEntry(p.EntryID)
			if err != nil {
				return err
			}
			outcome := p.Outcome
			e.Outcome = &outcome
			e.UpdatedAt = s.now()
			if err := s.writeEntry(p.EntryID, e, body); err != nil {
				return err
			}
			var cerr error
			rev, cerr = s.repo.Commit([]string{entryPath(p.EntryID)},
				commitmsg.WithToken(commitmsg.Outcomes(p.EntryID, outcome.Rating), p.Token), s.author)
			return cerr
		})
		if err != nil {
			return idem.Result{}, err
		}
		s.log.Info("updated outcome", "id", p.EntryID, "rating", p.Outcome.Rating, "revision", rev)
		return idem.Result{EntryID: p.EntryID, Revision: rev}, nil
	}, s.resolveToken(p.Token, p.EntryID))
	if err != nil {
		return "", err
	}
	return res.Revision, nil
}

// UpdateProtocol replaces the free-form protocol body.
func (s *Store) UpdateProtocol(ctx context.Context, p ProtocolParams) (string, error) {
	if err := id.Validate(p.EntryID); err != nil {
		return "", err
	}
	if len(p.Protocol) > model.MaxProtocolLen {
		return "", fault.New(fault.SchemaError, "protocol exceeds %d bytes", model.MaxProtocolLen)
	}
	if !utf8.ValidString(p.Protocol) {
		return "", fault.New(fault.SchemaError, "protocol must be valid UTF-8")
	}

	res, err := s.tokens.Execute(ctx, p.Token, idem.HashPayload("update_protocol", p), func() (idem.Result, error) {
		var rev string
		err := s.locks.WithLock(ctx, p.EntryID, func() error {
			e, _, err := s.readEntry(p.EntryID)
			if err != nil {
				return err
			}
			e.UpdatedAt = s.now()
			if err := s.writeEntry(p.EntryID, e, p.Protocol); err != nil {
				return err
			}
			var cerr error
			rev, cerr = s.repo.Commit([]string{entryPath(p.EntryID)},
				commitmsg.WithToken(commitmsg.Edit(p.EntryID), p.Token), s.author)
			return cerr
		})
		if err != nil {
			return idem.Result{}, err
		}
		s.log.Info("updated protocol", "id", p.EntryID, "revision", rev)
		return idem.Result{EntryID: p.EntryID, Revision: rev}, nil
	}, s.resolveToken(p.Token, p.EntryID))
	if err != nil {
		return "", err
	}
	return res.Revision, nil
}

// DeleteEntry removes the entry's file and commits the deletion as its own
// revision. The entry stays reachable through history; only the current
// tree forgets it.
func (s *Store) DeleteEntry(ctx context.Context, p DeleteParams) (string, error) {
	if err := id.Validate(p.EntryID); err != nil {
		return "", err
	}

	res, err := s.tokens.Execute(ctx, p.Token, idem.HashPayload("delete_entry", p), func() (idem.Result, error) {
		var rev string
		err := s.locks.WithLock(ctx, p.EntryID, func() error {
			if _, err := os.Stat(s.absPath(entryPath(p.EntryID))); err != nil {
				if os.IsNotExist(err) {
					return fault.New(fault.NotFound, "entry %s not found", p.EntryID)
				}
				return fault.Wrap(fault.StorageIO, err, "checking entry %s", p.EntryID)
			}
			var cerr error
			rev, cerr = s.repo.Remove(entryPath(p.EntryID),
				commitmsg.WithToken(commitmsg.Delete(p.EntryID), p.Token), s.author)
			return cerr
		})
		if err != nil {
			return idem.Result{}, err
		}
		s.log.Info("deleted entry", "id", p.EntryID, "revision", rev)
		return idem.Result{EntryID: p.EntryID, Revision: rev}, nil
	}, s.resolveToken(p.Token, p.EntryID))
	if err != nil {
		return "", err
	}
	return res.Revision, nil
}

// GetEntry returns the current materialized entry and its protocol body.
func (s *Store) GetEntry(entryID string) (*model.Entry, string, error) {
	if err := id.Validate(entryID); err != nil {
		return nil, "", err
	}
	return s.readEntry(entryID)
}
