// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loomchat/loom/bridge"
	"github.com/loomchat/loom/messaging"
	"github.com/loomchat/loom/timeline"
)

// router executes submitted actions against the protocol session, one
// at a time, and emits a completion envelope for each. Serial
// execution keeps per-account request order predictable and makes
// "one in-flight backfill per room" hold by construction.
type router struct {
	account string
	session *messaging.Session
	bridge  *bridge.Bridge
	logger  *slog.Logger
	seq     *sequence
	actions <-chan Action
}

// run drains the action queue until the context is cancelled. Queued
// actions are abandoned on shutdown; their callers observe the
// disconnect through the account status instead.
func (r *router) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-r.actions:
			r.execute(ctx, action)
		}
	}
}

// execute performs one action and emits its completion. Backfill
// additionally emits the decoded page before the completion so the
// timeline grows before the requester is told it can ask for more.
func (r *router) execute(ctx context.Context, action Action) {
	result := timeline.RequestResult{
		Token: action.Token,
		Room:  action.Room,
	}

	if err := action.Validate(); err != nil {
		result.Failure = timeline.FailureValidation
		result.Detail = err.Error()
		r.complete(ctx, result)
		return
	}

	var err error
	switch action.Kind {
	case ActionSendMessage:
		result.EventID, err = r.session.SendMessage(ctx, action.Room, action.Token,
			messaging.NewMarkdownMessage(action.Body))

	case ActionEditMessage:
		result.EventID, err = r.session.SendMessage(ctx, action.Room, action.Token,
			messaging.NewMarkdownEdit(action.Target, action.Body))

	case ActionRedact:
		result.EventID, err = r.session.RedactEvent(ctx, action.Room, action.Target,
			action.Token, action.Body)

	case ActionJoinRoom:
		result.Room, err = r.session.JoinRoom(ctx, action.RoomRef)

	case ActionLeaveRoom:
		err = r.session.LeaveRoom(ctx, action.Room)

	case ActionSetReadMarker:
		err = r.session.SetReadMarker(ctx, action.Room, action.Target)

	case ActionSendTyping:
		err = r.session.SendTyping(ctx, action.Room, action.Typing, typingTimeoutMS)

	case ActionBackfill:
		err = r.backfill(ctx, action)
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		result.Failure, result.Detail = classifyFailure(err)
		r.logger.Warn("request failed",
			"kind", action.Kind, "token", action.Token,
			"failure", result.Failure, "error", err)
	}
	r.complete(ctx, result)
}

// typingTimeoutMS is how long the server keeps a typing notice alive
// without a refresh.
const typingTimeoutMS = 4000

// backfillLimit is the default page size when the action does not
// specify one.
const backfillLimit = 30

func (r *router) backfill(ctx context.Context, action Action) error {
	limit := action.Limit
	if limit <= 0 {
		limit = backfillLimit
	}
	response, err := r.session.RoomMessages(ctx, action.Room, messaging.RoomMessagesOptions{
		From:      action.From,
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return err
	}

	env := timeline.Envelope{
		Account:   r.account,
		Seq:       r.seq.next(),
		Kind:      timeline.EnvelopeBackfill,
		Room:      action.Room,
		Events:    decodeBackfillPage(response),
		PrevBatch: response.End,
	}
	return r.bridge.Send(ctx, env)
}

// classifyFailure maps an execution error to the completion taxonomy:
// a protocol-level error means the server processed and refused the
// request; anything else is a transport failure that may never have
// reached it.
func classifyFailure(err error) (timeline.FailureKind, string) {
	var matrixErr *messaging.MatrixError
	if errors.As(err, &matrixErr) {
		return timeline.FailureRejected, matrixErr.Error()
	}
	return timeline.FailureNetwork, err.Error()
}

func (r *router) complete(ctx context.Context, result timeline.RequestResult) {
	env := timeline.Envelope{
		Account: r.account,
		Seq:     r.seq.next(),
		Kind:    timeline.EnvelopeRequestResult,
		Request: &result,
	}
	if err := r.bridge.Send(ctx, env); err != nil {
		r.logger.Debug("completion dropped", "token", result.Token, "error", err)
	}
}
