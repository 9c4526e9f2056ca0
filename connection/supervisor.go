// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/lib/clock"
	"github.com/loomchat/loom/lib/ref"
	"github.com/loomchat/loom/messaging"
	"github.com/loomchat/loom/timeline"
)

var (
	// ErrAlreadyConnected is returned by Connect while the account is
	// connecting or syncing.
	ErrAlreadyConnected = errors.New("connection: already connected")

	// ErrNotConnected is returned by Submit while the account has no
	// running background domain.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrQueueFull is returned by Submit when the action queue is
	// full. Submit never blocks the host thread.
	ErrQueueFull = errors.New("connection: action queue full")
)

// actionQueueSize bounds submitted-but-unexecuted actions per
// account.
const actionQueueSize = 64

// SupervisorConfig configures one account's supervisor.
type SupervisorConfig struct {
	// Account is the configuration name for this account; envelopes
	// are attributed to it.
	Account string

	// HomeserverURL is the base URL of the homeserver.
	HomeserverURL string

	// Username and Password authenticate via login when no access
	// token is available.
	Username string
	Password string

	// UserID and AccessToken resume a stored session without login.
	// DeviceID is passed on login so the server reuses the stored
	// device rather than minting a new one.
	UserID      ref.UserID
	AccessToken string
	DeviceID    string

	// DeviceName labels the device created at first login.
	DeviceName string

	// Since resumes the sync stream from a stored position.
	Since string

	// Bridge receives all emitted envelopes.
	Bridge *bridge.Bridge

	// Clock is used for backoff waits. If nil, clock.Real() is used.
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// HTTPClient overrides the transport, mainly for tests. If nil,
	// a client with a timeout slightly above the sync long-poll
	// window is used.
	HTTPClient *http.Client

	// OnNextBatch, if set, is called with each new sync position.
	OnNextBatch func(token string)

	// OnLogin, if set, is called once after a successful password
	// login so credentials can be persisted for the next start.
	OnLogin func(userID ref.UserID, accessToken, deviceID string)

	// InitialBackoff and MaxBackoff bound the sync retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Supervisor owns one account's connection lifecycle. Connect and
// Disconnect are called from the host thread; the network work runs
// in background goroutines that communicate only via the bridge.
type Supervisor struct {
	config SupervisorConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   timeline.AccountState
	cancel  context.CancelFunc
	done    chan struct{}
	actions chan Action
	seq     *sequence
}

// NewSupervisor creates a disconnected supervisor.
func NewSupervisor(config SupervisorConfig) (*Supervisor, error) {
	if config.Account == "" {
		return nil, fmt.Errorf("connection: account name is required")
	}
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("connection: homeserver URL is required")
	}
	if config.Bridge == nil {
		return nil, fmt.Errorf("connection: bridge is required")
	}
	if config.AccessToken == "" && (config.Username == "" || config.Password == "") {
		return nil, fmt.Errorf("connection: account %s needs an access token or username and password", config.Account)
	}
	if config.AccessToken != "" && config.UserID.IsZero() {
		return nil, fmt.Errorf("connection: account %s has an access token but no user ID", config.Account)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		config: config,
		logger: logger.With("account", config.Account),
		state:  timeline.StateDisconnected,
		seq:    &sequence{},
	}, nil
}

// State returns the supervisor's lifecycle state.
func (s *Supervisor) State() timeline.AccountState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the background domain: session establishment, the
// sync worker, and the request executor. It returns immediately;
// progress is reported through account-status envelopes.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == timeline.StateConnecting || s.state == timeline.StateSyncing {
		return ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.state = timeline.StateConnecting
	s.cancel = cancel
	s.done = make(chan struct{})
	s.actions = make(chan Action, actionQueueSize)

	go s.run(runCtx, s.actions, s.done)
	return nil
}

// Disconnect cancels the background domain and waits for it to exit.
// Room state on the host side is untouched: history stays rendered,
// only the connection goes away.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
}

// Submit queues an action for the request executor without blocking.
// The completion envelope echoes the action's token.
func (s *Supervisor) Submit(action Action) (PendingRequest, error) {
	if err := action.Validate(); err != nil {
		return PendingRequest{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != timeline.StateConnecting && s.state != timeline.StateSyncing {
		return PendingRequest{}, ErrNotConnected
	}
	select {
	case s.actions <- action:
		return PendingRequest{Token: action.Token, Kind: action.Kind}, nil
	default:
		return PendingRequest{}, ErrQueueFull
	}
}

// run is the background domain's root goroutine: it establishes the
// session, starts the request executor, and runs the sync loop until
// cancellation or a fatal error.
func (s *Supervisor) run(ctx context.Context, actions <-chan Action, done chan struct{}) {
	defer close(done)

	s.emitStatus(ctx, timeline.StateConnecting, "", false)

	session, err := s.establishSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.setState(timeline.StateDisconnected)
			s.emitStatus(ctx, timeline.StateDisconnected, "", false)
			return
		}
		s.logger.Error("session establishment failed", "error", err)
		s.setState(timeline.StateErrored)
		s.emitStatus(ctx, timeline.StateErrored, err.Error(), !messaging.IsTransientError(err))
		return
	}
	defer session.CloseIdleConnections()
	s.setState(timeline.StateSyncing)

	executor := &router{
		account: s.config.Account,
		session: session,
		bridge:  s.config.Bridge,
		logger:  s.logger,
		seq:     s.seq,
		actions: actions,
	}
	var executorDone sync.WaitGroup
	executorDone.Add(1)
	go func() {
		defer executorDone.Done()
		executor.run(ctx)
	}()

	worker := NewWorker(WorkerConfig{
		Account:        s.config.Account,
		Session:        session,
		Bridge:         s.config.Bridge,
		Clock:          s.config.Clock,
		Logger:         s.logger,
		Since:          s.config.Since,
		OnNextBatch:    s.config.OnNextBatch,
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		sequence:       s.seq,
	})
	err = worker.Run(ctx)
	executorDone.Wait()

	switch {
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		s.setState(timeline.StateDisconnected)
		// Best-effort: the host may already be blocked waiting for
		// this goroutine to exit, so never wait for bridge space.
		s.config.Bridge.TrySend(timeline.Envelope{
			Account: s.config.Account,
			Seq:     s.seq.next(),
			Kind:    timeline.EnvelopeAccountStatus,
			Status:  &timeline.AccountStatus{State: timeline.StateDisconnected},
		})
	case err != nil:
		// Fatal errors already produced their status envelope inside
		// the worker.
		s.setState(timeline.StateErrored)
	default:
		s.setState(timeline.StateDisconnected)
	}
}

// establishSession resumes from a stored access token when one is
// available, otherwise performs a password login and hands the new
// credentials to the persistence hook.
func (s *Supervisor) establishSession(ctx context.Context) (*messaging.Session, error) {
	httpClient := s.config.HTTPClient
	if httpClient == nil {
		// Must out-wait the /sync long-poll window or every idle
		// poll turns into a timeout error.
		httpClient = &http.Client{Timeout: time.Duration(syncTimeoutMS)*time.Millisecond + 30*time.Second}
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: s.config.HomeserverURL,
		HTTPClient:    httpClient,
		Logger:        s.logger,
		DeviceName:    s.config.DeviceName,
	})
	if err != nil {
		return nil, err
	}

	if s.config.AccessToken != "" {
		return client.SessionFromToken(s.config.UserID, s.config.AccessToken, s.config.DeviceID), nil
	}

	session, err := client.Login(ctx, s.config.Username, s.config.Password, s.config.DeviceID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("logged in", "user_id", session.UserID(), "device_id", session.DeviceID())
	if s.config.OnLogin != nil {
		s.config.OnLogin(session.UserID(), session.AccessToken(), session.DeviceID())
	}
	return session, nil
}

func (s *Supervisor) setState(state timeline.AccountState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) emitStatus(ctx context.Context, state timeline.AccountState, detail string, fatal bool) {
	env := timeline.Envelope{
		Account: s.config.Account,
		Seq:     s.seq.next(),
		Kind:    timeline.EnvelopeAccountStatus,
		Status:  &timeline.AccountStatus{State: state, Detail: detail, Fatal: fatal},
	}
	if err := s.config.Bridge.Send(ctx, env); err != nil {
		s.logger.Debug("status envelope dropped", "state", state, "error", err)
	}
}
