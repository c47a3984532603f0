package telegram

import (
	"context"
	"time"

	"github.com/gotd/td/tg"

	"ex-mirror/pkg/mirror"
)

// GetState returns the current common message box position.
func (s *Service) GetState(ctx context.Context) (int64, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	state, err := s.api.UpdatesGetState(callCtx)
	if err != nil {
		return 0, mapRemoteError(mirror.RemoteOperationGetState, err)
	}
	s.setState(*state)

	return int64(state.Pts), nil
}

// GetDifference returns common box updates after seq.
//
// Replayed new messages carry no sequence position; Difference.Seq moves the
// caller past them.
func (s *Service) GetDifference(ctx context.Context, seq int64) (mirror.Difference, error) {
	s.mu.Lock()
	request := &tg.UpdatesGetDifferenceRequest{
		Pts:  int(seq),
		Date: s.state.Date,
		Qts:  s.state.Qts,
	}
	s.mu.Unlock()

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	result, err := s.api.UpdatesGetDifference(callCtx, request)
	if err != nil {
		return mirror.Difference{}, mapRemoteError(mirror.RemoteOperationGetDifference, err)
	}

	switch typed := result.(type) {
	case *tg.UpdatesDifferenceEmpty:
		return mirror.Difference{Seq: seq, Final: true}, nil
	case *tg.UpdatesDifference:
		s.setState(typed.State)
		return mirror.Difference{
			Events: s.differenceEvents(typed.NewMessages, typed.OtherUpdates, typed.Users, typed.Chats),
			Seq:    int64(typed.State.Pts),
			Final:  true,
		}, nil
	case *tg.UpdatesDifferenceSlice:
		s.setState(typed.IntermediateState)
		return mirror.Difference{
			Events: s.differenceEvents(typed.NewMessages, typed.OtherUpdates, typed.Users, typed.Chats),
			Seq:    int64(typed.IntermediateState.Pts),
		}, nil
	case *tg.UpdatesDifferenceTooLong:
		return mirror.Difference{Seq: int64(typed.Pts), Final: true, Truncated: true}, nil
	default:
		return mirror.Difference{Seq: seq, Final: true}, nil
	}
}

func (s *Service) differenceEvents(
	messages []tg.MessageClass,
	others []tg.UpdateClass,
	users []tg.UserClass,
	chats []tg.ChatClass,
) []mirror.UpdateEvent {
	s.peers.Remember(users, chats)
	sidecar := carriedEntities(users, chats)

	events := make([]mirror.UpdateEvent, 0, len(messages)+len(others))
	for _, message := range messages {
		events = append(events, mapUpdate(&tg.UpdateNewMessage{Message: message}, time.Time{}, sidecar)...)
	}
	for _, update := range others {
		if update == nil {
			continue
		}
		events = append(events, mapUpdate(update, time.Time{}, sidecar)...)
	}

	return events
}

func (s *Service) setState(state tg.UpdatesState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
