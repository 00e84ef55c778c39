package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// TokenStore loads and persists the OAuth credential.
//
// The refresh-token grant requires writable storage.
type TokenStore interface {
	// Load returns the stored credential, or (nil, nil) when nothing has
	// been persisted yet. Existing but undecodable state is returned as an
	// error matching ErrCorrupt so callers can treat it as absent.
	Load(ctx context.Context) (*Credential, error)

	// Save persists the credential, replacing any previous one.
	Save(ctx context.Context, cred *Credential) error

	// Clear removes the persisted credential. Clearing absent state is not
	// an error.
	Clear(ctx context.Context) error
}

// ErrCorrupt marks persisted state that exists but holds no usable
// credential. Callers treat it as absent state and report the condition.
var ErrCorrupt = errors.New("corrupt credential state")

// CorruptError describes undecodable persisted state. Matches ErrCorrupt
// under errors.Is.
type CorruptError struct {
	Source string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt credential state in %s: %v", e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }
