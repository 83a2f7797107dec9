package world

import (
	"encoding/json"
	"time"

	"blockworld.ai/internal/protocol"
)

// handleCommand validates and applies one client command. Expected refusals
// (unknown gripper, blocked move, missing fields, disallowed kind) drop the
// command without a reply; only the hard-failure cases answer with an error
// message to the issuing session.
func (w *World) handleCommand(env CommandEnvelope) {
	base, err := protocol.DecodeBase(env.Raw)
	if err != nil || !protocol.IsCommand(base.Type) {
		w.metrics.command("invalid", "dropped")
		return
	}

	applied, code, detail := w.dispatch(env.SessionID, base.Type, env.Raw)

	result := "refused"
	if applied {
		result = "applied"
	}
	if code != "" {
		result = "error"
		w.pushError(env.SessionID, code, detail)
	}
	w.metrics.command(base.Type, result)
	if w.recorder != nil {
		w.recorder.RecordCommand(CommandRecord{
			Time:      time.Now().UTC(),
			SessionID: env.SessionID,
			Type:      base.Type,
			Raw:       json.RawMessage(env.Raw),
			Applied:   applied,
			Code:      code,
		})
	}
}

func (w *World) dispatch(sessionID, msgType string, raw []byte) (applied bool, code, detail string) {
	switch msgType {
	case protocol.TypeMove:
		return w.cmdMove(raw)
	case protocol.TypeRotate:
		return w.cmdRotate(raw)
	case protocol.TypeFlip:
		return w.cmdFlip(raw)
	case protocol.TypeGrip:
		return w.cmdGrip(raw)
	case protocol.TypeStopMove:
		return w.cmdStop(protocol.KindMove, raw)
	case protocol.TypeStopRotate:
		return w.cmdStop(protocol.KindRotate, raw)
	case protocol.TypeStopFlip:
		return w.cmdStop(protocol.KindFlip, raw)
	case protocol.TypeStopGrip:
		return w.cmdStop(protocol.KindGrip, raw)
	case protocol.TypeAddGripper:
		return w.cmdAddGripper(sessionID, raw)
	case protocol.TypeRemoveGripper:
		return w.cmdRemoveGripper(sessionID, raw)
	case protocol.TypeLoadState:
		return w.cmdLoadState(raw)
	}
	return false, "", ""
}

func (w *World) gripperExists(id string) bool {
	_, ok := w.state.Gripper(id)
	return ok
}

func (w *World) cmdMove(raw []byte) (bool, string, string) {
	var c protocol.MoveCmd
	if json.Unmarshal(raw, &c) != nil || c.DX == nil || c.DY == nil {
		return false, "", ""
	}
	if !w.cfg.AllowsAction(protocol.KindMove) || !w.gripperExists(c.ID) {
		return false, "", ""
	}
	step := w.cfg.MoveStep
	if c.StepSize != nil {
		if !ValidStep(*c.StepSize) {
			return false, protocol.ErrBadStep, stepDetail(*c.StepSize)
		}
		step = *c.StepSize
	}
	dx, dy := *c.DX*step, *c.DY*step
	if c.Loop {
		id := c.ID
		w.startSlot(protocol.KindMove, id, func() bool { return w.applyMove(id, dx, dy) })
		return false, "", ""
	}
	return w.applyMove(c.ID, dx, dy), "", ""
}

// applyMove displaces a gripper by (dx, dy), carrying its held object as
// one unit when it has one.
func (w *World) applyMove(id string, dx, dy float64) bool {
	g, ok := w.state.Gripper(id)
	if !ok {
		return false
	}
	b := protocol.NewBatch()
	if g.Held != "" {
		held := g.Held
		if !w.state.MoveBoth(id, dx, dy) {
			return false
		}
		w.mergeGripper(&b, id)
		w.mergeObject(&b, held)
	} else {
		if !w.state.MoveGripper(id, dx, dy) {
			return false
		}
		w.mergeGripper(&b, id)
	}
	w.push(b)
	return true
}

func (w *World) cmdRotate(raw []byte) (bool, string, string) {
	var c protocol.RotateCmd
	if json.Unmarshal(raw, &c) != nil || c.Direction == nil {
		return false, "", ""
	}
	dir := *c.Direction
	if dir != 1 && dir != -1 {
		return false, "", ""
	}
	if !w.cfg.AllowsAction(protocol.KindRotate) || !w.gripperExists(c.ID) {
		return false, "", ""
	}
	step := w.cfg.RotationStep
	if c.StepSize != nil {
		if *c.StepSize <= 0 || *c.StepSize > 360 {
			return false, protocol.ErrBadStep, stepDetail(*c.StepSize)
		}
		step = *c.StepSize
	}
	delta := float64(dir) * step
	if c.Loop {
		id := c.ID
		w.startSlot(protocol.KindRotate, id, func() bool { return w.applyRotate(id, delta) })
		return false, "", ""
	}
	return w.applyRotate(c.ID, delta), "", ""
}

func (w *World) applyRotate(id string, delta float64) bool {
	g, ok := w.state.Gripper(id)
	if !ok || g.Held == "" {
		return false
	}
	if !w.state.RotateObject(g.Held, delta) {
		return false
	}
	b := protocol.NewBatch()
	w.mergeObject(&b, g.Held)
	w.push(b)
	return true
}

func (w *World) cmdFlip(raw []byte) (bool, string, string) {
	var c protocol.FlipCmd
	if json.Unmarshal(raw, &c) != nil {
		return false, "", ""
	}
	if !w.cfg.AllowsAction(protocol.KindFlip) || !w.gripperExists(c.ID) {
		return false, "", ""
	}
	if c.Loop {
		id := c.ID
		w.startSlot(protocol.KindFlip, id, func() bool { return w.applyFlip(id) })
		return false, "", ""
	}
	return w.applyFlip(c.ID), "", ""
}

func (w *World) applyFlip(id string) bool {
	g, ok := w.state.Gripper(id)
	if !ok || g.Held == "" {
		return false
	}
	if !w.state.MirrorObject(g.Held) {
		return false
	}
	b := protocol.NewBatch()
	w.mergeObject(&b, g.Held)
	w.push(b)
	return true
}

func (w *World) cmdGrip(raw []byte) (bool, string, string) {
	var c protocol.GripCmd
	if json.Unmarshal(raw, &c) != nil {
		return false, "", ""
	}
	if !w.cfg.AllowsAction(protocol.KindGrip) || !w.gripperExists(c.ID) {
		return false, "", ""
	}
	if c.Loop {
		id := c.ID
		w.startSlot(protocol.KindGrip, id, func() bool { return w.applyGrip(id) })
		return false, "", ""
	}
	return w.applyGrip(c.ID), "", ""
}

// applyGrip toggles: a holding gripper releases (snapping if configured),
// an empty one grips the first object under its point.
func (w *World) applyGrip(id string) bool {
	g, ok := w.state.Gripper(id)
	if !ok {
		return false
	}
	b := protocol.NewBatch()
	if g.Held != "" {
		released, ok := w.state.Ungrip(id)
		if !ok {
			return false
		}
		w.mergeGripper(&b, id)
		w.mergeObject(&b, released)
		w.push(b)
		return true
	}
	target, ok := w.state.GrippableAt(g.X, g.Y)
	if !ok || !w.state.Grip(id, target) {
		return false
	}
	w.mergeGripper(&b, id)
	w.mergeObject(&b, target)
	w.push(b)
	return true
}

func (w *World) cmdStop(kind string, raw []byte) (bool, string, string) {
	var c protocol.StopCmd
	if json.Unmarshal(raw, &c) != nil {
		return false, "", ""
	}
	if !w.cfg.AllowsAction(kind) || !w.gripperExists(c.ID) {
		return false, "", ""
	}
	// Applied only when a running loop was actually cancelled; a stop on an
	// idle slot is an expected refusal.
	return w.stopSlot(kind, c.ID), "", ""
}

func (w *World) cmdAddGripper(sessionID string, raw []byte) (bool, string, string) {
	var c protocol.AddGripperCmd
	if json.Unmarshal(raw, &c) != nil {
		return false, "", ""
	}
	id := c.ID
	if id == "" {
		id = sessionID
	}
	if !w.state.AddGripper(id, float64(w.cfg.Width)/2, float64(w.cfg.Height)/2) {
		return false, "", ""
	}
	b := protocol.NewBatch()
	w.mergeGripper(&b, id)
	w.push(b)
	return true, "", ""
}

func (w *World) cmdRemoveGripper(sessionID string, raw []byte) (bool, string, string) {
	var c protocol.RemoveGripperCmd
	if json.Unmarshal(raw, &c) != nil {
		return false, "", ""
	}
	id := c.ID
	if id == "" {
		id = sessionID
	}
	w.stopSlotsFor(id)
	released, ok := w.state.RemoveGripper(id)
	if !ok {
		return false, "", ""
	}
	b := protocol.NewBatch()
	b.Grippers[id] = nil
	w.mergeObject(&b, released)
	w.push(b)
	return true, "", ""
}

func (w *World) cmdLoadState(raw []byte) (bool, string, string) {
	var c protocol.LoadStateCmd
	if err := json.Unmarshal(raw, &c); err != nil {
		return false, protocol.ErrBadSnapshot, err.Error()
	}
	if err := w.loadSnapshot(c.Snapshot); err != nil {
		return false, errorCodeFor(err), err.Error()
	}
	w.logger.Printf("state loaded: %d grippers, %d objs",
		len(w.state.GripperIDs()), len(w.state.ObjectIDs()))
	return true, "", ""
}

func stepDetail(step float64) string {
	b, _ := json.Marshal(step)
	return "step size " + string(b) + " not allowed"
}
