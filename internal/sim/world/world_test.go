package world

import (
	"io"
	"log"
	"testing"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/sim/pieces"
)

func testCatalog(t *testing.T) *pieces.Catalog {
	t.Helper()
	cat, err := pieces.FromMatrices(map[string][][]int{
		"I": {{1}, {1}, {1}, {1}},
		"L": {{1, 0}, {1, 0}, {1, 1}},
		"O": {{1, 1}, {1, 1}},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func testWorld(t *testing.T, mutate func(*Config)) *World {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Width = 10
	cfg.Height = 10
	cfg.ActionIntervalMs = 5
	cfg.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return New(cfg, testCatalog(t), log.New(io.Discard, "", 0))
}

func join(t *testing.T, w *World, sessionID string) (protocol.WelcomeMsg, chan protocol.ErrorMsg) {
	t.Helper()
	errs := make(chan protocol.ErrorMsg, 8)
	resp := make(chan JoinResponse, 1)
	w.handleJoin(JoinRequest{SessionID: sessionID, Errs: errs, Resp: resp})
	return (<-resp).Welcome, errs
}

func send(w *World, sessionID, raw string) {
	w.handleCommand(CommandEnvelope{SessionID: sessionID, Raw: []byte(raw)})
}

func drainErr(t *testing.T, errs chan protocol.ErrorMsg) protocol.ErrorMsg {
	t.Helper()
	select {
	case e := <-errs:
		return e
	default:
		t.Fatalf("expected an error message")
		return protocol.ErrorMsg{}
	}
}

func noErr(t *testing.T, errs chan protocol.ErrorMsg) {
	t.Helper()
	select {
	case e := <-errs:
		t.Fatalf("unexpected error message: %+v", e)
	default:
	}
}

const seedState = `{"type":"load_state","snapshot":{
	"grippers":{},
	"objs":{
		"1":{"type":"O","x":4,"y":4,"width":2,"height":2,"color":"red"},
		"2":{"type":"I","x":0,"y":0,"width":1,"height":4,"color":"green"}
	}
}}`

func TestJoinWelcomePayload(t *testing.T) {
	w := testWorld(t, nil)
	send(w, "seed", seedState)
	w.agg.Clear()

	welcome, _ := join(t, w, "sess-1")
	if welcome.Type != protocol.TypeWelcome || welcome.Version != protocol.Version {
		t.Fatalf("welcome header = %q %q", welcome.Type, welcome.Version)
	}
	if welcome.SessionID != "sess-1" {
		t.Fatalf("session id = %q", welcome.SessionID)
	}
	if welcome.Config.Width != 10 || welcome.Config.MoveStep != 0.5 {
		t.Fatalf("config = %+v", welcome.Config)
	}
	if welcome.Config.PiecesDigest == "" || len(welcome.Config.Pieces) != 3 {
		t.Fatalf("pieces missing from config: %+v", welcome.Config)
	}
	if len(welcome.State.Objs) != 2 {
		t.Fatalf("welcome state objs = %d, want 2", len(welcome.State.Objs))
	}
}

func TestAddGripperDefaultsToSession(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "sess-1")

	send(w, "sess-1", `{"type":"add_gripper"}`)
	g, ok := w.state.Gripper("sess-1")
	if !ok {
		t.Fatalf("gripper not created under session id")
	}
	if g.X != 5 || g.Y != 5 {
		t.Fatalf("gripper not centered: (%v,%v)", g.X, g.Y)
	}

	b := w.agg.Flush()
	if got := b.Grippers["sess-1"]; got == nil || got.X != 5 {
		t.Fatalf("flush missing new gripper: %+v", b.Grippers)
	}

	// Same id again is a silent refusal.
	send(w, "sess-1", `{"type":"add_gripper"}`)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("duplicate add produced updates: %+v", b)
	}
}

func TestMoveAppliesDefaultStep(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s")
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"move","id":"s","dx":1,"dy":-1}`)
	g, _ := w.state.Gripper("s")
	if g.X != 5.5 || g.Y != 4.5 {
		t.Fatalf("gripper at (%v,%v), want (5.5,4.5)", g.X, g.Y)
	}
	b := w.agg.Flush()
	if got := b.Grippers["s"]; got == nil || got.X != 5.5 {
		t.Fatalf("update batch missing move: %+v", b.Grippers)
	}
}

func TestMoveRefusalEmitsNothing(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"move","id":"s","dx":100,"dy":0}`)
	noErr(t, errs)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("refused move produced updates: %+v", b)
	}
	g, _ := w.state.Gripper("s")
	if g.X != 5 {
		t.Fatalf("refused move displaced gripper: %v", g.X)
	}
}

func TestMoveUnknownGripperSilentlyDropped(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")

	send(w, "s", `{"type":"move","id":"ghost","dx":1,"dy":0}`)
	noErr(t, errs)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("unknown gripper produced updates: %+v", b)
	}
}

func TestMoveMissingFieldSilentlyDropped(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"move","id":"s","dx":1}`)
	noErr(t, errs)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("incomplete move produced updates: %+v", b)
	}
}

func TestMoveStepSizeValidation(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"move","id":"s","dx":1,"dy":0,"step_size":0.3}`)
	e := drainErr(t, errs)
	if e.Code != protocol.ErrBadStep {
		t.Fatalf("error code = %q, want %q", e.Code, protocol.ErrBadStep)
	}
	g, _ := w.state.Gripper("s")
	if g.X != 5 {
		t.Fatalf("bad step still moved the gripper: %v", g.X)
	}

	send(w, "s", `{"type":"move","id":"s","dx":1,"dy":0,"step_size":0.25}`)
	noErr(t, errs)
	g, _ = w.state.Gripper("s")
	if g.X != 5.25 {
		t.Fatalf("custom step not applied: %v", g.X)
	}
}

func TestDisallowedKindDropped(t *testing.T) {
	w := testWorld(t, func(c *Config) { c.Actions = []string{protocol.KindMove} })
	_, errs := join(t, w, "s")
	send(w, "s", seedState)
	send(w, "s", `{"type":"add_gripper"}`)
	send(w, "s", `{"type":"move","id":"s","dx":-1,"dy":-1}`)
	send(w, "s", `{"type":"grip","id":"s"}`)
	noErr(t, errs)
	if g, _ := w.state.Gripper("s"); g.Held != "" {
		t.Fatalf("disallowed grip still attached: %q", g.Held)
	}
	w.agg.Clear()

	send(w, "s", `{"type":"rotate","id":"s","direction":1}`)
	send(w, "s", `{"type":"flip","id":"s"}`)
	noErr(t, errs)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("disallowed kinds produced updates: %+v", b)
	}
}

func TestGripToggleCarryAndRelease(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", seedState)
	send(w, "s", `{"type":"add_gripper"}`)
	// Gripper sits at (5,5) over obj 1 spanning (4..5,4..5).
	send(w, "s", `{"type":"grip","id":"s"}`)
	noErr(t, errs)

	g, _ := w.state.Gripper("s")
	if g.Held != "1" {
		t.Fatalf("grip attached %q, want obj 1", g.Held)
	}
	w.agg.Clear()

	send(w, "s", `{"type":"move","id":"s","dx":2,"dy":0}`)
	o, _ := w.state.Object("1")
	if o.X != 5 {
		t.Fatalf("held object did not follow: x=%v", o.X)
	}
	b := w.agg.Flush()
	if b.Grippers["s"] == nil || b.Objs["1"] == nil {
		t.Fatalf("carry updates incomplete: %+v", b)
	}

	send(w, "s", `{"type":"grip","id":"s"}`)
	g, _ = w.state.Gripper("s")
	if g.Held != "" {
		t.Fatalf("second grip did not release")
	}
}

func TestRotateRequiresHeldObject(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", seedState)
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"rotate","id":"s","direction":1}`)
	noErr(t, errs)
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("rotate with empty hand produced updates: %+v", b)
	}

	send(w, "s", `{"type":"grip","id":"s"}`)
	w.agg.Clear()
	send(w, "s", `{"type":"rotate","id":"s","direction":1}`)
	o, _ := w.state.Object("1")
	if o.Rotation != 90 {
		t.Fatalf("rotation = %v, want 90", o.Rotation)
	}
	b := w.agg.Flush()
	if b.Objs["1"] == nil || b.Objs["1"].Rotation != 90 {
		t.Fatalf("rotate update missing: %+v", b.Objs)
	}
}

func TestLoadStateHardFailuresLeaveStateUntouched(t *testing.T) {
	w := testWorld(t, nil)
	_, errs := join(t, w, "s")
	send(w, "s", seedState)
	w.agg.Clear()

	send(w, "s", `{"type":"load_state","snapshot":{
		"grippers":{},
		"objs":{"9":{"type":"Z","x":0,"y":0,"width":2,"height":2}}
	}}`)
	e := drainErr(t, errs)
	if e.Code != protocol.ErrUnknownType {
		t.Fatalf("error code = %q, want %q", e.Code, protocol.ErrUnknownType)
	}

	send(w, "s", `{"type":"load_state","snapshot":{
		"grippers":{},
		"objs":{"9":{"type":"O","x":0,"y":0,"width":2}}
	}}`)
	e = drainErr(t, errs)
	if e.Code != protocol.ErrBadSnapshot {
		t.Fatalf("error code = %q, want %q", e.Code, protocol.ErrBadSnapshot)
	}

	if _, ok := w.state.Object("1"); !ok {
		t.Fatalf("failed load wiped prior state")
	}
	if _, ok := w.state.Object("9"); ok {
		t.Fatalf("failed load leaked entities")
	}
	if b := w.agg.Flush(); !b.IsEmpty() {
		t.Fatalf("failed load produced updates: %+v", b)
	}
}

func TestLoadStateTombstonesReplacedEntities(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s")
	send(w, "s", seedState)
	w.agg.Clear()

	send(w, "s", `{"type":"load_state","snapshot":{
		"grippers":{"g9":{"x":1,"y":1}},
		"objs":{"1":{"type":"L","x":0,"y":0,"width":2,"height":3}}
	}}`)
	b := w.agg.Flush()
	if v, present := b.Objs["2"]; !present || v != nil {
		t.Fatalf("replaced obj 2 not tombstoned: %+v", b.Objs)
	}
	if b.Objs["1"] == nil || b.Objs["1"].Type != "L" {
		t.Fatalf("new obj 1 missing from batch: %+v", b.Objs)
	}
	if b.Grippers["g9"] == nil {
		t.Fatalf("loaded gripper missing from batch")
	}
}

func TestResetTombstonesEverything(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s")
	send(w, "s", seedState)
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	if err := w.handleReset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	b := w.agg.Flush()
	for _, id := range []string{"1", "2"} {
		if v, present := b.Objs[id]; !present || v != nil {
			t.Fatalf("obj %s not tombstoned after reset: %+v", id, b.Objs)
		}
	}
	if v, present := b.Grippers["s"]; !present || v != nil {
		t.Fatalf("gripper not tombstoned after reset: %+v", b.Grippers)
	}
	if len(w.state.ObjectIDs()) != 0 {
		t.Fatalf("state not empty after reset")
	}
}

func TestRemoveGripperDefaultsToSession(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s")
	send(w, "s", `{"type":"add_gripper"}`)
	w.agg.Clear()

	send(w, "s", `{"type":"remove_gripper"}`)
	if _, ok := w.state.Gripper("s"); ok {
		t.Fatalf("gripper survived removal")
	}
	b := w.agg.Flush()
	if v, present := b.Grippers["s"]; !present || v != nil {
		t.Fatalf("removal not tombstoned: %+v", b.Grippers)
	}
}

func TestLeaveRemovesSessionGripperOnly(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s1")
	join(t, w, "s2")
	send(w, "s1", `{"type":"add_gripper"}`)
	send(w, "s1", `{"type":"add_gripper","id":"shared"}`)
	w.agg.Clear()

	w.handleLeave("s1")
	if _, ok := w.state.Gripper("s1"); ok {
		t.Fatalf("session gripper survived leave")
	}
	if _, ok := w.state.Gripper("shared"); !ok {
		t.Fatalf("explicitly added gripper removed on leave")
	}
	if _, ok := w.sessions["s1"]; ok {
		t.Fatalf("session map still holds s1")
	}
	b := w.agg.Flush()
	if v, present := b.Grippers["s1"]; !present || v != nil {
		t.Fatalf("leave not tombstoned: %+v", b.Grippers)
	}
}

func TestSnapshotRoundTripThroughDescribe(t *testing.T) {
	w := testWorld(t, nil)
	join(t, w, "s")
	send(w, "s", seedState)

	view := StateView{Config: w.cfg.Info(w.cat), Snapshot: w.state.Snapshot()}
	if len(view.Snapshot.Objs) != 2 {
		t.Fatalf("snapshot objs = %d", len(view.Snapshot.Objs))
	}

	w2 := testWorld(t, nil)
	if err := w2.state.LoadSnapshot(view.Snapshot, w2.cat); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(w2.state.ObjectIDs()) != 2 {
		t.Fatalf("reloaded objs = %d", len(w2.state.ObjectIDs()))
	}
}
