package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/generation"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/memory"
	"github.com/dotsetgreg/dotpersona/pkg/metrics"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
)

// Config configures the turn service.
type Config struct {
	StoreTimeout    time.Duration
	MaxMessageChars int
	ExtractionQueue int
	// Seed fixes the random source; zero seeds from the clock.
	Seed      uint64
	Retrieval memory.RetrievalOptions
	Selector  generation.SelectorWeights
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Reply is the successful result of a chat turn.
type Reply struct {
	Response string   `json:"response"`
	Metadata Metadata `json:"metadata"`
}

type extractionJob struct {
	conversationID string
	fragments      []memory.Fragment
	touched        []string
	at             time.Time
}

// Service loads, advances and persists conversations around the Engine. It
// owns the store and closes it on Close.
type Service struct {
	cfg     Config
	store   memory.Store
	engine  *Engine
	ranker  *memory.Ranker
	rand    Rand
	metrics *metrics.Metrics
	locks   *keyedMutex

	jobs   chan extractionJob
	stopCh chan struct{}
	wg     sync.WaitGroup

	// mu guards closed. inflight counts calls that may still use the store
	// or enqueue extraction work.
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func NewService(store memory.Store, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.ExtractionQueue <= 0 {
		cfg.ExtractionQueue = 64
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retrieval.Now == nil {
		cfg.Retrieval.Now = cfg.Now
	}

	r := NewRand(cfg.Seed)
	svc := &Service{
		cfg:     cfg,
		store:   store,
		engine:  NewEngine(Options{Rand: r, Selector: cfg.Selector, Now: cfg.Now}),
		ranker:  memory.NewRanker(store, cfg.Retrieval),
		rand:    r,
		metrics: cfg.Metrics,
		locks:   newKeyedMutex(),
		jobs:    make(chan extractionJob, cfg.ExtractionQueue),
		stopCh:  make(chan struct{}),
	}

	svc.wg.Add(1)
	go svc.runWorker()
	return svc
}

// Close rejects new calls, waits for running ones, drains queued extraction
// work, then closes the store.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.inflight.Wait()
		close(s.stopCh)
		s.wg.Wait()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

func (s *Service) Store() memory.Store {
	return s.store
}

// begin registers an in-flight call. It reports false once Close has started.
func (s *Service) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Chat runs one turn. Only validation failures and panics are returned as
// errors; store trouble degrades to an unpersisted turn.
func (s *Service) Chat(ctx context.Context, req Request) (reply Reply, err error) {
	if !s.begin() {
		return Reply{}, ErrEngineClosed
	}
	defer s.inflight.Done()
	if err := req.Validate(s.cfg.MaxMessageChars); err != nil {
		s.metrics.RecordTurn("invalid", 0)
		return Reply{}, err
	}

	start := time.Now()
	id := ConversationID(req.UserID, req.ChatID)
	unlock := s.locks.Lock(id)
	defer unlock()

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("engine", "Turn panicked", map[string]any{
				"conversation_id": id,
				"panic":           fmt.Sprint(r),
			})
			s.metrics.RecordTurn("error", time.Since(start))
			reply = Reply{}
			err = fmt.Errorf("turn %s: %v", id, r)
		}
	}()

	st, persisted := s.loadState(ctx, id, req)
	res := s.engine.Turn(ctx, req.Message, st, timeoutRecaller{ranker: s.ranker, timeout: s.cfg.StoreTimeout})

	outcome := "ok"
	if persisted {
		s.persist(ctx, res)
		s.enqueue(extractionJob{
			conversationID: id,
			fragments:      res.Fragments,
			touched:        res.Recalled,
			at:             res.Metadata.Timestamp,
		})
	} else {
		outcome = "degraded"
	}

	s.metrics.RecordTurn(outcome, time.Since(start))
	s.metrics.RecordSelection(res.Metadata.ResponseOrigin)
	logger.DebugCF("engine", "Turn complete", map[string]any{
		"conversation_id": id,
		"origin":          res.Metadata.ResponseOrigin,
		"state":           res.Metadata.EmotionalState,
		"depth":           res.Metadata.ConversationDepth,
		"action":          req.Action,
		"persisted":       persisted,
	})
	return Reply{Response: res.Response, Metadata: res.Metadata}, nil
}

// Conversation returns the stored state for userID and chatID.
func (s *Service) Conversation(ctx context.Context, userID, chatID string) (memory.ConversationState, error) {
	if !s.begin() {
		return memory.ConversationState{}, ErrEngineClosed
	}
	defer s.inflight.Done()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetConversation(sctx, ConversationID(userID, chatID))
}

func (s *Service) ListConversations(ctx context.Context, userID string, limit int) ([]memory.ConversationSummary, error) {
	if !s.begin() {
		return nil, ErrEngineClosed
	}
	defer s.inflight.Done()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListConversations(sctx, userID, limit)
}

// DeleteConversation removes a conversation with its messages and fragments.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	if !s.begin() {
		return ErrEngineClosed
	}
	defer s.inflight.Done()
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.DeleteConversation(sctx, conversationID)
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) storeFailed(op, conversationID string, err error) {
	s.metrics.RecordStoreError(op)
	logger.WarnCF("engine", "Store call failed", map[string]any{
		"op":              op,
		"conversation_id": conversationID,
		"error":           err.Error(),
	})
}

func (s *Service) freshState(id string, req Request) memory.ConversationState {
	return memory.NewConversationState(id, req.UserID, req.ChatID, personality.NewVector(s.rand), s.cfg.Now())
}

// loadState returns the stored conversation, creating and seeding it on first
// contact. The bool is false when the store could not be used.
func (s *Service) loadState(ctx context.Context, id string, req Request) (memory.ConversationState, bool) {
	getCtx, cancel := s.storeCtx(ctx)
	st, err := s.store.GetConversation(getCtx, id)
	cancel()
	if err == nil {
		return st, true
	}
	if !errors.Is(err, memory.ErrNotFound) {
		s.storeFailed("get_conversation", id, err)
		return s.freshState(id, req), false
	}

	fresh := s.freshState(id, req)
	createCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := s.store.CreateConversation(createCtx, fresh)
	if err != nil {
		s.storeFailed("create_conversation", id, err)
		return fresh, false
	}
	s.seed(createCtx, id)
	logger.InfoCF("engine", "Conversation created", map[string]any{
		"conversation_id": id,
		"user_id":         req.UserID,
		"state":           string(created.Personality.CurrentEmotionalState),
	})
	return created, true
}

// seed inserts the persona's seed fragments unless the conversation already
// has fragments.
func (s *Service) seed(ctx context.Context, id string) {
	existing, err := s.store.QueryFragments(ctx, memory.FragmentQuery{ConversationID: id, Limit: 1})
	if err != nil {
		s.storeFailed("query_fragments", id, err)
		return
	}
	if len(existing) > 0 {
		return
	}
	for _, f := range memory.SeedFragments(id, s.cfg.Now()) {
		if _, err := s.store.InsertFragment(ctx, f); err != nil {
			s.storeFailed("insert_fragment", id, err)
			return
		}
	}
}

func (s *Service) persist(ctx context.Context, res TurnResult) {
	id := res.State.ConversationID
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	for _, msg := range []memory.Message{res.UserMessage, res.AgentMessage} {
		if err := s.store.AppendMessage(sctx, msg); err != nil {
			s.storeFailed("append_message", id, err)
			return
		}
	}
	if _, err := s.store.UpdateConversationState(sctx, res.State); err != nil {
		if errors.Is(err, memory.ErrStaleState) {
			logger.WarnCF("engine", "Conversation state moved during turn", map[string]any{
				"conversation_id": id,
				"version":         res.State.Version,
			})
		}
		s.storeFailed("update_conversation_state", id, err)
	}
}

func (s *Service) enqueue(job extractionJob) {
	if len(job.fragments) == 0 && len(job.touched) == 0 {
		return
	}
	select {
	case s.jobs <- job:
	default:
		s.metrics.RecordExtractionDropped()
		logger.WarnCF("engine", "Extraction queue full, dropping job", map[string]any{
			"conversation_id": job.conversationID,
			"fragments":       len(job.fragments),
		})
	}
}

func (s *Service) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			s.drain()
			return
		case job := <-s.jobs:
			s.runJob(job)
		}
	}
}

// drain finishes jobs already queued at shutdown.
func (s *Service) drain() {
	for {
		select {
		case job := <-s.jobs:
			s.runJob(job)
		default:
			return
		}
	}
}

func (s *Service) runJob(job extractionJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	if len(job.touched) > 0 {
		if err := s.store.TouchFragments(ctx, job.touched, job.at); err != nil {
			s.storeFailed("touch_fragments", job.conversationID, err)
		}
	}
	for _, f := range job.fragments {
		if _, err := s.store.InsertFragment(ctx, f); err != nil {
			s.storeFailed("insert_fragment", job.conversationID, err)
			return
		}
	}
	if len(job.fragments) > 0 {
		logger.DebugCF("engine", "Fragments extracted", map[string]any{
			"conversation_id": job.conversationID,
			"count":           len(job.fragments),
		})
	}
}

// timeoutRecaller bounds each retrieval by the store timeout.
type timeoutRecaller struct {
	ranker  *memory.Ranker
	timeout time.Duration
}

func (t timeoutRecaller) Retrieve(ctx context.Context, conversationID string, a analysis.Analysis, depth float64) []memory.RankedFragment {
	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.ranker.Retrieve(rctx, conversationID, a, depth)
}
