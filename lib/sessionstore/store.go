// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionstore persists per-account connection state between
// runs: the access token, the server-assigned device ID, and the last
// sync position. A stored session resumes without re-login and
// without refetching history the client already rendered.
//
// One CBOR file per account under the state directory, written
// atomically (temp file + rename) with private permissions since the
// access token is a credential.
package sessionstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/loomchat/loom/lib/codec"
	"github.com/loomchat/loom/lib/ref"
)

// Session is the persisted state for one account.
type Session struct {
	UserID      ref.UserID `cbor:"user_id"`
	AccessToken string     `cbor:"access_token"`
	DeviceID    string     `cbor:"device_id"`

	// NextBatch is the last sync position; the worker resumes from
	// it. Empty forces a full initial sync.
	NextBatch string `cbor:"next_batch"`
}

// ErrNotFound is returned by Load for accounts with no stored
// session.
var ErrNotFound = errors.New("sessionstore: no stored session")

// accountFilePattern keeps account names usable as file names. Config
// validation is looser; the store is the layer that touches the
// filesystem, so it enforces its own rule.
var accountFilePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store reads and writes session files in a directory. Safe for
// concurrent use; writes to the same account serialize.
type Store struct {
	directory string
	mu        sync.Mutex
}

// New creates a store rooted at the given directory, creating it if
// needed.
func New(directory string) (*Store, error) {
	if directory == "" {
		return nil, fmt.Errorf("sessionstore: directory is required")
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("sessionstore: create directory: %w", err)
	}
	return &Store{directory: directory}, nil
}

// Load returns the stored session for an account, or ErrNotFound.
func (s *Store) Load(account string) (*Session, error) {
	path, err := s.path(account)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("sessionstore: account %s: %w", account, ErrNotFound)
		}
		return nil, fmt.Errorf("sessionstore: read %s: %w", account, err)
	}

	var session Session
	if err := codec.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessionstore: decode %s: %w", account, err)
	}
	return &session, nil
}

// Save writes the session for an account atomically.
func (s *Store) Save(account string, session *Session) error {
	path, err := s.path(account)
	if err != nil {
		return err
	}

	data, err := codec.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessionstore: encode %s: %w", account, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	temp, err := os.CreateTemp(s.directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("sessionstore: temp file: %w", err)
	}
	tempPath := temp.Name()
	defer os.Remove(tempPath)

	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		return fmt.Errorf("sessionstore: chmod: %w", err)
	}
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return fmt.Errorf("sessionstore: write %s: %w", account, err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("sessionstore: close %s: %w", account, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("sessionstore: rename %s: %w", account, err)
	}
	return nil
}

// UpdateNextBatch persists a new sync position for an account that
// already has a stored session. Missing sessions are ignored: the
// position is only worth keeping alongside the token that can use it.
func (s *Store) UpdateNextBatch(account, nextBatch string) error {
	session, err := s.Load(account)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if session.NextBatch == nextBatch {
		return nil
	}
	session.NextBatch = nextBatch
	return s.Save(account, session)
}

// Delete removes an account's stored session. Deleting a missing
// session is a no-op.
func (s *Store) Delete(account string) error {
	path, err := s.path(account)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sessionstore: delete %s: %w", account, err)
	}
	return nil
}

func (s *Store) path(account string) (string, error) {
	if !accountFilePattern.MatchString(account) {
		return "", fmt.Errorf("sessionstore: invalid account name %q", account)
	}
	return filepath.Join(s.directory, account+".session"), nil
}
