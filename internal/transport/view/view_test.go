package view

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/updates"
)

func gripperAt(x float64) *protocol.GripperState {
	return &protocol.GripperState{Type: "gripper", X: x, Y: 5, Width: 1, Height: 1, Color: "lightblue"}
}

func TestStorageMergeFlushClear(t *testing.T) {
	agg := updates.NewAggregator()
	ts := httptest.NewServer(StorageHandler(agg))
	defer ts.Close()

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(ts.URL, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		return resp
	}

	// Two posts merge last-write-wins on the shared key.
	resp := post(`{"grippers":{"g1":{"type":"gripper","x":1,"y":5,"width":1,"height":1,"rotation":0,"mirrored":false,"color":"lightblue","gripped":null}},"objs":{},"config":false}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("post status = %d", resp.StatusCode)
	}
	resp = post(`{"grippers":{"g1":{"type":"gripper","x":2,"y":5,"width":1,"height":1,"rotation":0,"mirrored":false,"color":"lightblue","gripped":null}},"objs":{},"config":true}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("post status = %d", resp.StatusCode)
	}

	get := func() protocol.UpdateBatch {
		t.Helper()
		resp, err := http.Get(ts.URL)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		var b protocol.UpdateBatch
		if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return b
	}

	b := get()
	if g := b.Grippers["g1"]; g == nil || g.X != 2 {
		t.Fatalf("merge not last-write-wins: %+v", b.Grippers)
	}
	if !b.Config {
		t.Fatalf("config flag not ORed in")
	}

	// GET cleared the store.
	if b := get(); !b.IsEmpty() {
		t.Fatalf("second get not empty: %+v", b)
	}

	post(`{"grippers":{"g2":{"type":"gripper","x":0,"y":0,"width":1,"height":1,"rotation":0,"mirrored":false,"color":"lightblue","gripped":null}},"objs":{},"config":false}`)
	req, _ := http.NewRequest(http.MethodDelete, ts.URL, nil)
	if resp, err := http.DefaultClient.Do(req); err != nil || resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %v %v", err, resp)
	}
	if b := get(); !b.IsEmpty() {
		t.Fatalf("delete did not clear: %+v", b)
	}
}

func TestStorageRejectsMalformedBody(t *testing.T) {
	ts := httptest.NewServer(StorageHandler(updates.NewAggregator()))
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"grippers":`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestNotifierPostsToRegisteredViews(t *testing.T) {
	got := make(chan protocol.UpdateBatch, 4)
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/updates" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var b protocol.UpdateBatch
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			t.Errorf("decode: %v", err)
		}
		got <- b
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	n := NewNotifier(log.New(io.Discard, "", 0), nil)
	if err := n.Add(ts.URL); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	b := protocol.NewBatch()
	b.Grippers["g1"] = gripperAt(3)
	n.PushUpdate(b)

	select {
	case rec := <-got:
		if g := rec.Grippers["g1"]; g == nil || g.X != 3 {
			t.Fatalf("posted batch wrong: %+v", rec)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no POST within deadline")
	}

	n.Remove(ts.URL)
	n.PushUpdate(b)
	select {
	case rec := <-got:
		t.Fatalf("removed view still notified: %+v", rec)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifierAddValidatesURL(t *testing.T) {
	n := NewNotifier(log.New(io.Discard, "", 0), nil)
	for _, bad := range []string{"", "ftp://host", "localhost:8000", "http://"} {
		if err := n.Add(bad); err == nil {
			t.Fatalf("Add(%q) accepted", bad)
		}
	}
	if err := n.Add("http://127.0.0.1:5001/"); err != nil {
		t.Fatalf("Add rejected valid url: %v", err)
	}
	if got := n.List(); len(got) != 1 || got[0] != "http://127.0.0.1:5001" {
		t.Fatalf("list = %v", got)
	}
}
