package pingpong

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ex-mirror/pkg/mirror"
)

func TestModuleHandleMessage(t *testing.T) {
	tests := []struct {
		name     string
		message  mirror.Message
		sendErr  error
		wantErr  bool
		wantPong bool
	}{
		{
			name:     "ping triggers pong",
			message:  newMessage(7, "/ping"),
			wantPong: true,
		},
		{
			name:     "ping with mention triggers pong",
			message:  newMessage(7, "/ping@mirror_bot now"),
			wantPong: true,
		},
		{
			name:    "other command is ignored",
			message: newMessage(7, "/hello"),
		},
		{
			name:    "ping inside text is ignored",
			message: newMessage(7, "say /ping"),
		},
		{
			name:    "own message is ignored",
			message: newMessage(1, "/ping"),
		},
		{
			name:     "send failure returns error",
			message:  newMessage(7, "/ping"),
			sendErr:  errors.New("send failed"),
			wantErr:  true,
			wantPong: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			facade := &captureFacade{sendErr: testCase.sendErr}
			module := New()
			if err := module.Start(context.Background(), facade); err != nil {
				t.Fatalf("start failed: %v", err)
			}

			err := facade.handler(context.Background(), testCase.message)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sent := facade.sentMessages()
			if (len(sent) > 0) != testCase.wantPong {
				t.Fatalf("sent = %v, want pong %v", sent, testCase.wantPong)
			}
			if !testCase.wantPong {
				return
			}
			if sent[0].text != "pong!" {
				t.Fatalf("sent text = %q, want pong!", sent[0].text)
			}
			if sent[0].peer != testCase.message.Peer {
				t.Fatalf("sent peer = %+v, want %+v", sent[0].peer, testCase.message.Peer)
			}
		})
	}
}

func TestModuleStart(t *testing.T) {
	t.Parallel()

	t.Run("nil facade", func(t *testing.T) {
		t.Parallel()

		if err := New().Start(context.Background(), nil); err == nil {
			t.Fatal("expected nil facade error")
		}
	})

	t.Run("self failure", func(t *testing.T) {
		t.Parallel()

		facade := &captureFacade{selfErr: mirror.ErrNotReady}
		err := New().Start(context.Background(), facade)
		if !errors.Is(err, mirror.ErrNotReady) {
			t.Fatalf("error = %v, want ErrNotReady", err)
		}
		if facade.handler != nil {
			t.Fatal("subscribed despite self failure")
		}
	})

	t.Run("closes subscription when context ends", func(t *testing.T) {
		t.Parallel()

		facade := &captureFacade{}
		ctx, cancel := context.WithCancel(context.Background())
		if err := New().Start(ctx, facade); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if facade.subscription.isClosed() {
			t.Fatal("subscription closed before context ended")
		}

		cancel()
		select {
		case <-facade.subscription.closed:
		case <-time.After(time.Second):
			t.Fatal("subscription not closed after context ended")
		}
	})

	t.Run("subscribes with named spec", func(t *testing.T) {
		t.Parallel()

		facade := &captureFacade{}
		if err := New().Start(context.Background(), facade); err != nil {
			t.Fatalf("start failed: %v", err)
		}
		if facade.spec.Name != "pingpong-messages" {
			t.Fatalf("spec name = %q, want pingpong-messages", facade.spec.Name)
		}
		if facade.spec.OnError == nil {
			t.Fatal("expected error handler on spec")
		}
	})
}

func newMessage(sender int64, text string) mirror.Message {
	return mirror.Message{
		ID:           "10",
		Peer:         mirror.Peer{Kind: mirror.PeerKindGroup, ID: 42},
		SenderUserID: sender,
		Text:         text,
	}
}

type sentText struct {
	peer mirror.Peer
	text string
}

type captureFacade struct {
	selfErr error
	sendErr error

	spec         mirror.SubscriptionSpec
	handler      mirror.MessageHandler
	subscription *captureSubscription

	mu   sync.Mutex
	sent []sentText
}

func (f *captureFacade) Self(context.Context) (mirror.User, error) {
	if f.selfErr != nil {
		return mirror.User{}, f.selfErr
	}

	return mirror.User{ID: 1, IsBot: true}, nil
}

func (f *captureFacade) SubscribeMessages(
	_ context.Context,
	spec mirror.SubscriptionSpec,
	handler mirror.MessageHandler,
) (mirror.Subscription, error) {
	f.spec = spec
	f.handler = handler
	f.subscription = &captureSubscription{name: spec.Name, closed: make(chan struct{})}

	return f.subscription, nil
}

func (f *captureFacade) SendText(_ context.Context, peer mirror.Peer, text string) (mirror.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{peer: peer, text: text})
	if f.sendErr != nil {
		return "", f.sendErr
	}

	return "11", nil
}

func (f *captureFacade) sentMessages() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentText(nil), f.sent...)
}

type captureSubscription struct {
	name   string
	once   sync.Once
	closed chan struct{}
}

func (s *captureSubscription) Name() string {
	return s.name
}

func (s *captureSubscription) Close(context.Context) error {
	s.once.Do(func() { close(s.closed) })

	return nil
}

func (s *captureSubscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
