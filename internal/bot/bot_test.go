package bot

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"ex-mirror/internal/kernel"
	"ex-mirror/pkg/mirror"
)

var testCredential = mirror.Credential{Token: "123:abc"}

func TestBotBootstrapLoadsMirror(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	var index []mirror.Peer
	for id := int64(100); id < 130; id++ {
		remote.addUser(mirror.User{ID: id, AccessHash: id * 10, HasAccessHash: true})
		index = append(index, mirror.UserPeer(id))
	}
	remote.addGroup(mirror.Group{ID: 500, Title: "team", Type: mirror.PrivateGroupType(), HasAccessHash: true})
	index = append(index, mirror.GroupPeer(500))
	remote.index = index

	bot := mustBot(t, remote)
	runBot(t, bot)

	ctx := testContext(t)
	self, err := bot.Self(ctx)
	if err != nil {
		t.Fatalf("Self failed: %v", err)
	}
	if self.ID != 1 {
		t.Fatalf("self = %+v, want id 1", self)
	}

	dialogs, err := bot.Dialogs(ctx)
	if err != nil {
		t.Fatalf("Dialogs failed: %v", err)
	}
	if !reflect.DeepEqual(dialogs, index) {
		t.Fatalf("dialogs = %v, want server order %v", dialogs, index)
	}

	remote.mu.Lock()
	chunkSizes := make([]int, 0, len(remote.dialogCalls))
	for _, call := range remote.dialogCalls {
		chunkSizes = append(chunkSizes, len(call))
	}
	remote.mu.Unlock()
	if !reflect.DeepEqual(chunkSizes, []int{25, 6}) {
		t.Fatalf("dialog chunks = %v, want [25 6]", chunkSizes)
	}

	for _, peer := range index {
		if _, err := bot.ResolveOutPeer(ctx, peer); err != nil {
			t.Fatalf("ResolveOutPeer(%s) failed: %v", peer, err)
		}
	}

	about, ok, err := bot.Parameter(ctx, "about")
	if err != nil || !ok || about != "a bot" {
		t.Fatalf("Parameter(about) = %q, %v, %v", about, ok, err)
	}
	if readiness := bot.Readiness(); readiness != ReadinessReady {
		t.Fatalf("readiness = %s, want ready", readiness)
	}
}

func TestBotAuthorizationFailureFailsEveryWaiter(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.authErr = errors.New("bad token")
	bot := mustBot(t, remote)

	const waiters = 5
	results := make(chan error, waiters)
	var started sync.WaitGroup
	for range waiters {
		started.Add(1)
		go func() {
			started.Done()
			_, err := bot.Self(context.Background())
			results <- err
		}()
	}
	started.Wait()

	runErr := bot.Run(context.Background(), testCredential)
	if _, ok := mirror.AsAuthorizationError(runErr); !ok {
		t.Fatalf("run error = %v, want AuthorizationError", runErr)
	}

	for range waiters {
		select {
		case err := <-results:
			if !errors.Is(err, mirror.ErrNotReady) {
				t.Fatalf("waiter error = %v, want ErrNotReady", err)
			}
			if _, ok := mirror.AsAuthorizationError(err); !ok {
				t.Fatalf("waiter error = %v, want AuthorizationError cause", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not released")
		}
	}

	if _, err := bot.Dialogs(context.Background()); !errors.Is(err, mirror.ErrNotReady) {
		t.Fatalf("late accessor error = %v, want ErrNotReady", err)
	}
	if readiness := bot.Readiness(); readiness != ReadinessFailed {
		t.Fatalf("readiness = %s, want failed", readiness)
	}
}

func TestBotInvalidCredentialIsAuthorizationError(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())
	err := bot.Run(context.Background(), mirror.Credential{Token: "t", Phone: "+1"})
	if _, ok := mirror.AsAuthorizationError(err); !ok {
		t.Fatalf("run error = %v, want AuthorizationError", err)
	}
	if !errors.Is(err, mirror.ErrInvalidCredential) {
		t.Fatalf("run error = %v, want ErrInvalidCredential", err)
	}
}

func TestBotAccessorWaitsForBootstrap(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())

	selfCh := make(chan mirror.User, 1)
	go func() {
		self, err := bot.Self(context.Background())
		if err == nil {
			selfCh <- self
		}
		close(selfCh)
	}()

	select {
	case <-selfCh:
		t.Fatal("accessor returned before bootstrap")
	case <-time.After(30 * time.Millisecond):
	}

	runBot(t, bot)
	select {
	case self, ok := <-selfCh:
		if !ok || self.ID != 1 {
			t.Fatalf("self = %+v, %v", self, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accessor not released after bootstrap")
	}
}

func TestBotAccessorHonorsContext(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := bot.Dialogs(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestBotRunTwiceFails(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())
	runBot(t, bot)
	if err := bot.AwaitReady(testContext(t)); err != nil {
		t.Fatalf("AwaitReady failed: %v", err)
	}

	if err := bot.Run(context.Background(), testCredential); !errors.Is(err, mirror.ErrAlreadyRunning) {
		t.Fatalf("second run error = %v, want ErrAlreadyRunning", err)
	}
}

func TestBotStopBeforeRunFailsReadiness(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())
	if err := bot.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := bot.AwaitReady(context.Background()); !errors.Is(err, mirror.ErrStopped) {
		t.Fatalf("AwaitReady error = %v, want ErrStopped", err)
	}
	if err := bot.Run(context.Background(), testCredential); !errors.Is(err, mirror.ErrStopped) {
		t.Fatalf("Run error = %v, want ErrStopped", err)
	}
	if state := bot.State(); state != kernel.StateStopped {
		t.Fatalf("state = %s, want stopped", state)
	}
}

func TestBotGroupMembersSharesOneLoad(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.addGroup(mirror.Group{ID: 500, Title: "team", Type: mirror.PrivateGroupType(), HasAccessHash: true})
	remote.addUser(mirror.User{ID: 7, AccessHash: 70, HasAccessHash: true})
	remote.addUser(mirror.User{ID: 8, AccessHash: 80, HasAccessHash: true})
	remote.index = []mirror.Peer{mirror.GroupPeer(500)}
	remote.memberPages[""] = mirror.MembersPage{
		Members:    []mirror.GroupMember{{UserID: 7}},
		NextCursor: []byte("c1"),
	}
	remote.memberPages["c1"] = mirror.MembersPage{
		Members: []mirror.GroupMember{{UserID: 8, InviterUserID: 7}},
	}
	release := make(chan struct{})
	remote.memberRelease = release

	bot := mustBot(t, remote)
	runBot(t, bot)
	if err := bot.AwaitReady(testContext(t)); err != nil {
		t.Fatalf("AwaitReady failed: %v", err)
	}

	const callers = 4
	type result struct {
		list mirror.GroupMemberList
		err  error
	}
	results := make(chan result, callers)
	for range callers {
		go func() {
			list, _, err := bot.GroupMembers(context.Background(), 500)
			results <- result{list: list, err: err}
		}()
	}

	eventually(t, 2*time.Second, func() bool {
		return remote.memberCallCount() == 1
	})
	time.Sleep(30 * time.Millisecond)
	close(release)

	for range callers {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("GroupMembers failed: %v", res.err)
			}
			if !res.list.Loaded || len(res.list.Members) != 2 {
				t.Fatalf("roster = %+v, want two loaded members", res.list)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("GroupMembers did not return")
		}
	}
	if calls := remote.memberCallCount(); calls != 2 {
		t.Fatalf("member page calls = %d, want 2", calls)
	}

	if _, ok, err := bot.GroupMembers(context.Background(), 999); err != nil || ok {
		t.Fatalf("uncached group = %v, %v, want not found", ok, err)
	}
}

func TestBotSetParameter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		editErr   error
		wantValue string
	}{
		{name: "remote accepts edit", wantValue: "new"},
		{name: "remote rejects edit keeps local value", editErr: errors.New("denied"), wantValue: "a bot"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			remote := newFakeRemote()
			remote.editErr = testCase.editErr
			bot := mustBot(t, remote)
			runBot(t, bot)

			ctx := testContext(t)
			err := bot.SetParameter(ctx, "about", "new")
			if (err != nil) != (testCase.editErr != nil) {
				t.Fatalf("SetParameter error = %v, want %v", err, testCase.editErr)
			}
			value, _, err := bot.Parameter(ctx, "about")
			if err != nil {
				t.Fatalf("Parameter failed: %v", err)
			}
			if value != testCase.wantValue {
				t.Fatalf("about = %q, want %q", value, testCase.wantValue)
			}
		})
	}
}

func TestBotSubscribeMessagesResolvesBeforeDelivery(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote()
	remote.addUser(mirror.User{ID: 42, Nick: "carol", AccessHash: 420, HasAccessHash: true})
	bot := mustBot(t, remote)

	type delivery struct {
		message mirror.Message
		known   bool
	}
	received := make(chan delivery, 1)
	_, err := bot.SubscribeMessages(context.Background(), mirror.NewDefaultSubscriptionSpec("test-messages"),
		func(ctx context.Context, message mirror.Message) error {
			_, known, _ := bot.User(ctx, message.SenderUserID)
			received <- delivery{message: message, known: known}
			return nil
		})
	if err != nil {
		t.Fatalf("SubscribeMessages failed: %v", err)
	}

	runBot(t, bot)
	if err := bot.AwaitReady(testContext(t)); err != nil {
		t.Fatalf("AwaitReady failed: %v", err)
	}
	remote.updates <- mirror.UpdateEvent{
		Seq:  1,
		Kind: mirror.EventKindMessage,
		Message: &mirror.Message{
			ID:           "9",
			Peer:         mirror.UserPeer(42),
			SenderUserID: 42,
			Text:         "hi",
		},
	}

	select {
	case got := <-received:
		if got.message.Text != "hi" || !got.known {
			t.Fatalf("delivery = %+v, want resolved sender", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	dialogs, err := bot.Dialogs(testContext(t))
	if err != nil {
		t.Fatalf("Dialogs failed: %v", err)
	}
	if !reflect.DeepEqual(dialogs, []mirror.Peer{mirror.UserPeer(42)}) {
		t.Fatalf("dialogs = %v, want new peer appended", dialogs)
	}
}

func TestBotSendText(t *testing.T) {
	t.Parallel()

	remote := newMessengerRemote()
	remote.addUser(mirror.User{ID: 42, AccessHash: 420, HasAccessHash: true})
	remote.index = []mirror.Peer{mirror.UserPeer(42)}
	bot := mustBot(t, remote)
	runBot(t, bot)

	ctx := testContext(t)
	messageID, err := bot.SendText(ctx, mirror.UserPeer(42), "pong!")
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if messageID != "1" {
		t.Fatalf("message id = %s, want 1", messageID)
	}
	sent := remote.sentTexts()
	want := mirror.OutPeer{Peer: mirror.UserPeer(42), AccessHash: 420}
	if len(sent) != 1 || sent[0].peer != want || sent[0].text != "pong!" {
		t.Fatalf("sent = %+v", sent)
	}

	_, err = bot.SendText(ctx, mirror.UserPeer(77), "lost")
	if _, ok := mirror.AsUnresolvedReferenceError(err); !ok {
		t.Fatalf("send to unknown peer error = %v, want UnresolvedReferenceError", err)
	}
}

func TestBotOutboundUnsupported(t *testing.T) {
	t.Parallel()

	bot := mustBot(t, newFakeRemote())
	runBot(t, bot)

	_, err := bot.SendText(testContext(t), mirror.UserPeer(1), "x")
	if !errors.Is(err, mirror.ErrUnsupported) {
		t.Fatalf("error = %v, want ErrUnsupported", err)
	}
}

func TestBotFindUserByNickSearchesRemote(t *testing.T) {
	t.Parallel()

	remote := newMessengerRemote()
	remote.addUser(mirror.User{ID: 55, Nick: "dave", AccessHash: 550, HasAccessHash: true})
	remote.search["@dave"] = mirror.SearchResult{Peers: []mirror.Peer{mirror.UserPeer(55)}}
	bot := mustBot(t, remote)
	runBot(t, bot)

	ctx := testContext(t)
	user, ok, err := bot.FindUserByNick(ctx, "@dave")
	if err != nil || !ok {
		t.Fatalf("FindUserByNick = %v, %v", ok, err)
	}
	if user.ID != 55 {
		t.Fatalf("user = %+v, want id 55", user)
	}

	calls := remote.entityCallCount()
	if _, ok, _ := bot.FindUserByNick(ctx, "DAVE"); !ok {
		t.Fatal("cached lookup failed")
	}
	if remote.entityCallCount() != calls {
		t.Fatal("cached lookup hit the server")
	}
}

func mustBot(t *testing.T, remote mirror.RemoteService) *Bot {
	t.Helper()

	bot, err := New(remote, WithCoordinatorOptions(kernel.WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return bot
}

func runBot(t *testing.T, bot *Bot) {
	t.Helper()

	runErr := make(chan error, 1)
	go func() {
		runErr <- bot.Run(context.Background(), testCredential)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := bot.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if err := <-runErr; err != nil {
			t.Errorf("Run returned %v", err)
		}
	})
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
