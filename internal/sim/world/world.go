package world

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/board"
	"blockworld.ai/internal/sim/pieces"
	"blockworld.ai/internal/updates"
)

// UpdateSink receives flushed update batches. Implementations must not
// block: the notifier goroutine serves every sink in turn.
type UpdateSink interface {
	PushUpdate(batch protocol.UpdateBatch)
}

// CommandRecorder persists inbound commands and their outcome. May be nil.
// Implemented in internal/persistence.
type CommandRecorder interface {
	RecordCommand(rec CommandRecord)
}

type CommandRecord struct {
	Time      time.Time       `json:"time"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Raw       json.RawMessage `json:"raw"`
	Applied   bool            `json:"applied"`
	Code      string          `json:"code,omitempty"`
}

// JoinRequest registers a client session with the world loop. Errs receives
// hard-failure messages for commands this session issues; sends to it never
// block (messages are dropped on backpressure).
type JoinRequest struct {
	SessionID string
	Errs      chan<- protocol.ErrorMsg
	Resp      chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// CommandEnvelope carries one raw client command into the world loop.
type CommandEnvelope struct {
	SessionID string
	Raw       []byte
}

// StateView is the full world description handed to admin endpoints and
// the replay tool.
type StateView struct {
	Config   protocol.ConfigInfo `json:"config"`
	Snapshot protocol.Snapshot   `json:"snapshot"`
}

type resetReq struct {
	Resp chan error
}

type generateReq struct {
	Params GenerateParams
	Resp   chan generateResp
}

type generateResp struct {
	Objects  int
	Grippers int
	Err      error
}

type describeReq struct {
	Resp chan StateView
}

// World is the single-threaded authoritative model. All state is owned by
// the loop goroutine started in Run; other goroutines talk to it through
// the request channels only.
type World struct {
	cfg    Config
	cat    *pieces.Catalog
	state  *board.State
	agg    *updates.Aggregator
	logger *log.Logger

	slots   map[slotKey]*loopSlot
	slotGen uint64

	sessions map[string]chan<- protocol.ErrorMsg

	inbox     chan CommandEnvelope
	joins     chan JoinRequest
	leaves    chan string
	ticks     chan tickMsg
	resets    chan resetReq
	generates chan generateReq
	describes chan describeReq
	stop      chan struct{}

	notifyKick chan struct{}
	sinks      []UpdateSink
	recorder   CommandRecorder
	metrics    *Metrics
}

func New(cfg Config, cat *pieces.Catalog, logger *log.Logger) *World {
	if logger == nil {
		logger = log.New(log.Writer(), "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &World{
		cfg:        cfg,
		cat:        cat,
		state:      board.NewState(cfg.BoardParams()),
		agg:        updates.NewAggregator(),
		logger:     logger,
		slots:      map[slotKey]*loopSlot{},
		sessions:   map[string]chan<- protocol.ErrorMsg{},
		inbox:      make(chan CommandEnvelope, 64),
		joins:      make(chan JoinRequest),
		leaves:     make(chan string, 16),
		ticks:      make(chan tickMsg),
		resets:     make(chan resetReq),
		generates:  make(chan generateReq),
		describes:  make(chan describeReq),
		stop:       make(chan struct{}),
		notifyKick: make(chan struct{}, 1),
	}
}

func (w *World) Config() Config           { return w.cfg }
func (w *World) Catalog() *pieces.Catalog { return w.cat }

// AttachSink registers an update sink. Call before Run.
func (w *World) AttachSink(s UpdateSink) {
	w.sinks = append(w.sinks, s)
}

// SetRecorder wires command persistence. Call before Run.
func (w *World) SetRecorder(r CommandRecorder) { w.recorder = r }

// SetMetrics wires instrumentation. Call before Run.
func (w *World) SetMetrics(m *Metrics) { w.metrics = m }

// Run drives the world loop until the context ends or Stop is called.
func (w *World) Run(ctx context.Context) error {
	nctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.notifier(nctx)
	}()
	defer wg.Wait()
	defer cancel()
	defer w.stopAllSlots()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.joins:
			w.handleJoin(req)
		case id := <-w.leaves:
			w.handleLeave(id)
		case env := <-w.inbox:
			w.handleCommand(env)
		case tm := <-w.ticks:
			w.handleTick(tm)
		case req := <-w.resets:
			req.Resp <- w.handleReset()
		case req := <-w.generates:
			req.Resp <- w.handleGenerate(req.Params)
		case req := <-w.describes:
			req.Resp <- StateView{Config: w.cfg.Info(w.cat), Snapshot: w.state.Snapshot()}
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// Join registers a session and returns the welcome payload. Safe to call
// from transport goroutines.
func (w *World) Join(ctx context.Context, sessionID string, errs chan<- protocol.ErrorMsg) (JoinResponse, error) {
	resp := make(chan JoinResponse, 1)
	req := JoinRequest{SessionID: sessionID, Errs: errs, Resp: resp}
	select {
	case w.joins <- req:
	case <-w.stop:
		return JoinResponse{}, errors.New("world stopped")
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// Leave unregisters a session. The session's default gripper and its loops
// are cleaned up by the world loop.
func (w *World) Leave(sessionID string) {
	select {
	case w.leaves <- sessionID:
	case <-w.stop:
	}
}

// Submit hands a raw command to the world loop.
func (w *World) Submit(ctx context.Context, env CommandEnvelope) error {
	select {
	case w.inbox <- env:
		return nil
	case <-w.stop:
		return errors.New("world stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestReset empties the board. Safe to call from admin handlers.
func (w *World) RequestReset(ctx context.Context) error {
	resp := make(chan error, 1)
	select {
	case w.resets <- resetReq{Resp: resp}:
	case <-w.stop:
		return errors.New("world stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestGenerate replaces the board with a randomly generated one.
func (w *World) RequestGenerate(ctx context.Context, p GenerateParams) (objects, grippers int, err error) {
	resp := make(chan generateResp, 1)
	select {
	case w.generates <- generateReq{Params: p, Resp: resp}:
	case <-w.stop:
		return 0, 0, errors.New("world stopped")
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.Objects, r.Grippers, r.Err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Describe exports the current configuration and a loadable snapshot.
func (w *World) Describe(ctx context.Context) (StateView, error) {
	resp := make(chan StateView, 1)
	select {
	case w.describes <- describeReq{Resp: resp}:
	case <-w.stop:
		return StateView{}, errors.New("world stopped")
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
}

func (w *World) handleJoin(req JoinRequest) {
	w.sessions[req.SessionID] = req.Errs
	w.metrics.sessionCount(len(w.sessions))
	w.logger.Printf("session %s joined (%d connected)", req.SessionID, len(w.sessions))
	req.Resp <- JoinResponse{
		Welcome: protocol.WelcomeMsg{
			Type:      protocol.TypeWelcome,
			Version:   protocol.Version,
			SessionID: req.SessionID,
			Config:    w.cfg.Info(w.cat),
			State:     w.state.FullBatch(),
		},
	}
}

func (w *World) handleLeave(sessionID string) {
	if _, ok := w.sessions[sessionID]; !ok {
		return
	}
	delete(w.sessions, sessionID)
	w.metrics.sessionCount(len(w.sessions))

	// The session's default gripper goes with it; explicitly added grippers
	// under other ids stay controllable by the remaining clients.
	w.stopSlotsFor(sessionID)
	if released, ok := w.state.RemoveGripper(sessionID); ok {
		b := protocol.NewBatch()
		b.Grippers[sessionID] = nil
		w.mergeObject(&b, released)
		w.push(b)
	}
	w.logger.Printf("session %s left (%d connected)", sessionID, len(w.sessions))
}

// pushError delivers a hard failure to one session, dropping it if the
// session is gone or its channel is full.
func (w *World) pushError(sessionID, code, detail string) {
	w.metrics.commandError(code)
	errs, ok := w.sessions[sessionID]
	if !ok {
		return
	}
	msg := protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Detail: detail}
	select {
	case errs <- msg:
	default:
		w.logger.Printf("session %s: error channel full, dropping %s", sessionID, code)
	}
}

// push merges a batch of changed entities and kicks the notifier.
func (w *World) push(b protocol.UpdateBatch) {
	if b.IsEmpty() {
		return
	}
	w.agg.Merge(b)
	w.kick()
}

func (w *World) kick() {
	select {
	case w.notifyKick <- struct{}{}:
	default:
	}
}

// notifier drains the aggregator and fans flushed batches out to every
// sink. It is the only goroutine that calls Flush.
func (w *World) notifier(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.notifyKick:
		}
		batch := w.agg.Flush()
		if batch.IsEmpty() {
			continue
		}
		w.metrics.flush(len(batch.Grippers), len(batch.Objs))
		for _, s := range w.sinks {
			s.PushUpdate(batch)
		}
	}
}

// mergeGripper records a gripper's current state (or a tombstone) into b.
func (w *World) mergeGripper(b *protocol.UpdateBatch, id string) {
	if g, ok := w.state.Gripper(id); ok {
		st := g.WireState()
		b.Grippers[id] = &st
	} else {
		b.Grippers[id] = nil
	}
}

func (w *World) mergeObject(b *protocol.UpdateBatch, id string) {
	if id == "" {
		return
	}
	if o, ok := w.state.Object(id); ok {
		st := o.WireState()
		b.Objs[id] = &st
	} else {
		b.Objs[id] = nil
	}
}

// tombstones marks every entity present in old but absent from the current
// state as removed, so clients drop stale entities after wholesale loads.
func (w *World) tombstones(old protocol.UpdateBatch) protocol.UpdateBatch {
	b := protocol.NewBatch()
	for id := range old.Grippers {
		if _, ok := w.state.Gripper(id); !ok {
			b.Grippers[id] = nil
		}
	}
	for id := range old.Objs {
		if _, ok := w.state.Object(id); !ok {
			b.Objs[id] = nil
		}
	}
	return b
}

// publishReplaced emits the full post-replacement state plus tombstones for
// entities that did not survive. Pending diffs from before the replacement
// are dropped first, so clients never see a stale partial update.
func (w *World) publishReplaced(old protocol.UpdateBatch) {
	w.stopAllSlots()
	w.agg.Clear()
	b := w.tombstones(old)
	b.Merge(w.state.FullBatch())
	w.push(b)
}

func (w *World) handleReset() error {
	old := w.state.FullBatch()
	w.state.Reset()
	w.publishReplaced(old)
	w.logger.Printf("world reset")
	return nil
}

func (w *World) loadSnapshot(snap protocol.Snapshot) error {
	old := w.state.FullBatch()
	if err := w.state.LoadSnapshot(snap, w.cat); err != nil {
		return err
	}
	w.publishReplaced(old)
	return nil
}

func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, board.ErrUnknownType):
		return protocol.ErrUnknownType
	case errors.Is(err, board.ErrBadSnapshot):
		return protocol.ErrBadSnapshot
	default:
		return protocol.ErrInternal
	}
}

func (w *World) handleGenerate(p GenerateParams) generateResp {
	ns, err := w.buildRandomState(p)
	if err != nil {
		return generateResp{Err: err}
	}
	old := w.state.FullBatch()
	w.state = ns
	w.publishReplaced(old)
	no := len(ns.ObjectIDs())
	ng := len(ns.GripperIDs())
	w.logger.Printf("generated board: %d objects, %d grippers", no, ng)
	return generateResp{Objects: no, Grippers: ng}
}
