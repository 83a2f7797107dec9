package world

import (
	"time"

	"blockworld.ai/internal/protocol"
)

// Loop slots implement repeated actions. Each (kind, gripper) pair owns at
// most one slot; starting a slot that already runs restarts it. The slot
// goroutine only converts ticker fires into tick messages; the action
// itself always executes on the world loop, so invocations of one slot
// never overlap and no tick runs after its slot has been stopped. Stale
// ticks from a replaced slot are recognized by generation and dropped.

type slotKey struct {
	Kind    string
	Gripper string
}

type loopSlot struct {
	gen  uint64
	stop chan struct{}
	act  func() bool
}

type tickMsg struct {
	key slotKey
	gen uint64
}

func (w *World) startSlot(kind, gripper string, act func() bool) {
	key := slotKey{Kind: kind, Gripper: gripper}
	w.stopSlot(kind, gripper)

	w.slotGen++
	s := &loopSlot{gen: w.slotGen, stop: make(chan struct{}), act: act}
	w.slots[key] = s
	w.metrics.slotCount(len(w.slots))

	interval := w.cfg.Interval()
	go func(gen uint64, stop chan struct{}) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				select {
				case w.ticks <- tickMsg{key: key, gen: gen}:
				case <-stop:
					return
				}
			}
		}
	}(s.gen, s.stop)
}

func (w *World) stopSlot(kind, gripper string) bool {
	key := slotKey{Kind: kind, Gripper: gripper}
	s, ok := w.slots[key]
	if !ok {
		return false
	}
	close(s.stop)
	delete(w.slots, key)
	w.metrics.slotCount(len(w.slots))
	return true
}

func (w *World) stopSlotsFor(gripper string) {
	for _, kind := range []string{protocol.KindMove, protocol.KindRotate, protocol.KindFlip, protocol.KindGrip} {
		w.stopSlot(kind, gripper)
	}
}

func (w *World) stopAllSlots() {
	for key, s := range w.slots {
		close(s.stop)
		delete(w.slots, key)
	}
	w.metrics.slotCount(0)
}

func (w *World) handleTick(tm tickMsg) {
	s, ok := w.slots[tm.key]
	if !ok || s.gen != tm.gen {
		return
	}
	w.metrics.loopTick(tm.key.Kind, s.act())
}
