package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/generation"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var errStoreDown = errors.New("store unavailable")

// downStore fails every call and counts the ones that would mutate state.
type downStore struct {
	mutations atomic.Int32
}

func (d *downStore) Close() error { return nil }
func (d *downStore) GetConversation(context.Context, string) (memory.ConversationState, error) {
	return memory.ConversationState{}, errStoreDown
}
func (d *downStore) CreateConversation(context.Context, memory.ConversationState) (memory.ConversationState, error) {
	d.mutations.Add(1)
	return memory.ConversationState{}, errStoreDown
}
func (d *downStore) UpdateConversationState(context.Context, memory.ConversationState) (int64, error) {
	d.mutations.Add(1)
	return 0, errStoreDown
}
func (d *downStore) DeleteConversation(context.Context, string) error {
	d.mutations.Add(1)
	return errStoreDown
}
func (d *downStore) ListConversations(context.Context, string, int) ([]memory.ConversationSummary, error) {
	return nil, errStoreDown
}
func (d *downStore) CountConversations(context.Context) (int, error) { return 0, errStoreDown }
func (d *downStore) AppendMessage(context.Context, memory.Message) error {
	d.mutations.Add(1)
	return errStoreDown
}
func (d *downStore) ListRecentMessages(context.Context, string, int) ([]memory.Message, error) {
	return nil, errStoreDown
}
func (d *downStore) QueryFragments(context.Context, memory.FragmentQuery) ([]memory.Fragment, error) {
	return nil, errStoreDown
}
func (d *downStore) InsertFragment(context.Context, memory.Fragment) (memory.Fragment, error) {
	d.mutations.Add(1)
	return memory.Fragment{}, errStoreDown
}
func (d *downStore) TouchFragments(context.Context, []string, time.Time) error {
	d.mutations.Add(1)
	return errStoreDown
}
func (d *downStore) Maintain(context.Context) error { return errStoreDown }

// countingStore records mutating calls on top of a real store.
type countingStore struct {
	memory.Store
	mu    sync.Mutex
	calls []string
}

func (c *countingStore) record(op string) {
	c.mu.Lock()
	c.calls = append(c.calls, op)
	c.mu.Unlock()
}

func (c *countingStore) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *countingStore) CreateConversation(ctx context.Context, st memory.ConversationState) (memory.ConversationState, error) {
	c.record("create_conversation")
	return c.Store.CreateConversation(ctx, st)
}

func (c *countingStore) UpdateConversationState(ctx context.Context, st memory.ConversationState) (int64, error) {
	c.record("update_conversation_state")
	return c.Store.UpdateConversationState(ctx, st)
}

func (c *countingStore) AppendMessage(ctx context.Context, msg memory.Message) error {
	c.record("append_message")
	return c.Store.AppendMessage(ctx, msg)
}

func (c *countingStore) TouchFragments(ctx context.Context, ids []string, at time.Time) error {
	c.record("touch_fragments")
	return c.Store.TouchFragments(ctx, ids, at)
}

func (c *countingStore) InsertFragment(ctx context.Context, f memory.Fragment) (memory.Fragment, error) {
	c.record("insert_fragment")
	return c.Store.InsertFragment(ctx, f)
}

func newSQLiteService(t *testing.T) (*Service, *countingStore) {
	t.Helper()
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "persona.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	counting := &countingStore{Store: store}
	svc := NewService(counting, Config{Seed: 11})
	t.Cleanup(func() { _ = svc.Close() })
	return svc, counting
}

func TestService_TwentyFiveTurns(t *testing.T) {
	svc, _ := newSQLiteService(t)
	ctx := context.Background()

	messages := []string{
		"Hello",
		"Tell me about your family",
		"I love my wife Martha, tell me about family",
		"What do you think about computers and radios?",
		"I remember the old days when we went to the coast",
	}
	prevDepth := 0.0
	for i := 0; i < 25; i++ {
		reply, err := svc.Chat(ctx, Request{Message: messages[i%len(messages)], UserID: "alice", ChatID: "kitchen"})
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if reply.Response == "" {
			t.Fatalf("turn %d: empty response", i)
		}
		if reply.Metadata.ConversationDepth < prevDepth {
			t.Fatalf("turn %d: depth decreased %.4f -> %.4f", i, prevDepth, reply.Metadata.ConversationDepth)
		}
		prevDepth = reply.Metadata.ConversationDepth
	}

	st, err := svc.Conversation(ctx, "alice", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, 25, st.InteractionCount)
	assert.Len(t, st.ShortTermMemory, memory.ShortTermCapacity)
	assert.Len(t, st.EmotionalTrajectory, memory.TrajectoryCapacity)
	assert.Equal(t, memory.RoleAgent, st.ShortTermMemory[len(st.ShortTermMemory)-1].Role)
	assert.Equal(t, int64(26), st.Version)
	require.NoError(t, st.Personality.Validate())
}

func TestService_SeedsNewConversation(t *testing.T) {
	svc, counting := newSQLiteService(t)
	ctx := context.Background()

	reply, err := svc.Chat(ctx, Request{Message: "Hello", UserID: "bob", ChatID: "porch"})
	require.NoError(t, err)
	assert.Equal(t, ConversationID("bob", "porch"), reply.Metadata.ConversationID)

	frags, err := svc.Store().QueryFragments(ctx, memory.FragmentQuery{ConversationID: reply.Metadata.ConversationID, Limit: 100})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(frags), len(memory.SeedFragments("", time.Now())))

	calls := counting.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "create_conversation", calls[0])
}

func TestService_RecalledFragmentsAreTouched(t *testing.T) {
	svc, counting := newSQLiteService(t)
	ctx := context.Background()

	reply, err := svc.Chat(ctx, Request{Message: "I love my wife Martha, tell me about family", UserID: "ann", ChatID: "den"})
	require.NoError(t, err)
	require.Positive(t, reply.Metadata.MemoryReferences)

	touched := func() bool {
		for _, op := range counting.Calls() {
			if op == "touch_fragments" {
				return true
			}
		}
		return false
	}
	require.Eventually(t, touched, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		frags, err := svc.Store().QueryFragments(ctx, memory.FragmentQuery{ConversationID: reply.Metadata.ConversationID, Limit: 100})
		if err != nil {
			return false
		}
		for _, f := range frags {
			if f.AccessedCount > 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_FamilyScenarioMetadata(t *testing.T) {
	svc, _ := newSQLiteService(t)
	reply, err := svc.Chat(context.Background(), Request{
		Message: "I love my wife Martha, tell me about family",
		UserID:  "carol",
		ChatID:  "den",
	})
	require.NoError(t, err)
	assert.Equal(t, "family", reply.Metadata.Topic)
	assert.Equal(t, "positive", reply.Metadata.Sentiment)
	assert.Greater(t, reply.Metadata.MemoryReferences, 0)

	family, err := svc.Store().QueryFragments(context.Background(), memory.FragmentQuery{
		ConversationID: reply.Metadata.ConversationID,
		AnyTags:        []string{"family"},
		Limit:          100,
	})
	require.NoError(t, err)
	familyIDs := map[string]bool{}
	for _, f := range family {
		familyIDs[f.ID] = true
	}
	referenced := false
	for _, id := range reply.Metadata.KnowledgeSources {
		if topic, ok := generation.KnowledgeTopic(id); (ok && topic == "family") || familyIDs[id] {
			referenced = true
		}
	}
	assert.True(t, referenced, "expected family provenance, got %v", reply.Metadata.KnowledgeSources)
}

func TestService_OverLengthMessageMutatesNothing(t *testing.T) {
	svc, counting := newSQLiteService(t)
	_, err := svc.Chat(context.Background(), Request{
		Message: strings.Repeat("a", 1001),
		UserID:  "dave",
		ChatID:  "shed",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Empty(t, counting.Calls())

	_, err = svc.Conversation(context.Background(), "dave", "shed")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestService_StoreUnavailableStillReplies(t *testing.T) {
	store := &downStore{}
	svc := NewService(store, Config{Seed: 5, StoreTimeout: 50 * time.Millisecond})
	defer svc.Close()

	reply, err := svc.Chat(context.Background(), Request{Message: "Hello", UserID: "erin", ChatID: "attic"})
	if err != nil {
		t.Fatalf("expected degraded reply, got error %v", err)
	}
	assert.NotEmpty(t, reply.Response)
	assert.Len(t, reply.Metadata.PersonalityVector, 10)
	assert.Equal(t, 0, reply.Metadata.MemoryReferences)
	assert.Equal(t, int32(0), store.mutations.Load(), "no writes after a failed load")
}

func TestService_ClosedRejectsTurns(t *testing.T) {
	svc := NewService(&downStore{}, Config{})
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	_, err := svc.Chat(context.Background(), Request{Message: "Hello", UserID: "u", ChatID: "c"})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

// closeOrderStore records Close so tests can check nothing reaches the store
// afterwards.
type closeOrderStore struct {
	*countingStore
}

func (c *closeOrderStore) Close() error {
	c.record("close")
	return c.countingStore.Close()
}

func TestService_CloseWaitsForInflightTurns(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "persona.db"))
	require.NoError(t, err)
	counting := &countingStore{Store: store}
	svc := NewService(&closeOrderStore{countingStore: counting}, Config{Seed: 7, StoreTimeout: 10 * time.Second})

	start := make(chan struct{})
	var (
		wg       sync.WaitGroup
		recalled atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			reply, err := svc.Chat(context.Background(), Request{
				Message: "I love my wife Martha, tell me about family",
				UserID:  "gus",
				ChatID:  "porch-" + string(rune('a'+i)),
			})
			if err != nil {
				if !errors.Is(err, ErrEngineClosed) {
					t.Errorf("chat: %v", err)
				}
				return
			}
			if reply.Metadata.MemoryReferences > 0 {
				recalled.Add(1)
			}
		}()
	}
	close(start)
	require.NoError(t, svc.Close())
	wg.Wait()

	calls := counting.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "close", calls[len(calls)-1], "store used after close: %v", calls)
	touches := 0
	for _, op := range calls {
		if op == "touch_fragments" {
			touches++
		}
	}
	assert.Equal(t, int(recalled.Load()), touches, "every accepted turn's extraction job must run")

	_, err = svc.Chat(context.Background(), Request{Message: "Hello", UserID: "gus", ChatID: "porch-z"})
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestService_ConcurrentTurnsSameConversation(t *testing.T) {
	svc, _ := newSQLiteService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Chat(ctx, Request{Message: "Tell me about music", UserID: "fay", ChatID: "hall"}); err != nil {
				t.Errorf("chat: %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := svc.Conversation(ctx, "fay", "hall")
	require.NoError(t, err)
	assert.Equal(t, 8, st.InteractionCount, "per-conversation lock must prevent lost updates")
	assert.Equal(t, 0, svc.locks.size())
}

func TestService_WorkerStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewService(&downStore{}, Config{Seed: 3})
	for i := 0; i < 3; i++ {
		svc.enqueue(extractionJob{conversationID: "cv1:x", touched: []string{"a"}, at: time.Now()})
	}
	require.NoError(t, svc.Close())
}
