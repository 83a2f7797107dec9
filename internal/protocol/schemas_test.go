package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	commandSchema := compile("command.schema.json")
	snapshotSchema := compile("snapshot.schema.json")
	updateSchema := compile("update.schema.json")
	errorSchema := compile("error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{"type":"hello","name":"bot1","token":"s3cret"}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"welcome",
	  "version":"1.0",
	  "session_id":"8b5c3b6e-8a1f-4a58-9d17-0f0ff3f2f9a1",
	  "config":{
	    "width":20,"height":20,
	    "actions":["move","rotate","flip","grip"],
	    "move_step":0.5,"rotation_step":90,
	    "colors":["red","blue"],
	    "pieces":{"I":[[1],[1],[1],[1]]},
	    "pieces_digest":"deadbeef"
	  },
	  "state":{"grippers":{},"objs":{},"config":false}
	}`), &welcome)
	validate(welcomeSchema, welcome)

	commands := []string{
		`{"type":"move","id":"g1","dx":1,"dy":0,"step_size":0.5,"loop":true}`,
		`{"type":"stop_move","id":"g1"}`,
		`{"type":"rotate","id":"g1","direction":-1}`,
		`{"type":"stop_rotate","id":"g1"}`,
		`{"type":"flip","id":"g1","loop":false}`,
		`{"type":"stop_flip","id":"g1"}`,
		`{"type":"grip","id":"g1"}`,
		`{"type":"stop_grip","id":"g1"}`,
		`{"type":"add_gripper"}`,
		`{"type":"remove_gripper","id":"g1"}`,
		`{"type":"load_state","snapshot":{
		  "grippers":{"g1":{"x":5,"y":5}},
		  "objs":{"1":{"type":"I","x":0,"y":0,"width":1,"height":4}}
		}}`,
	}
	for _, raw := range commands {
		var cmd any
		_ = json.Unmarshal([]byte(raw), &cmd)
		validate(commandSchema, cmd)
	}

	var snap any
	_ = json.Unmarshal([]byte(`{
	  "grippers":{"g1":{"x":5,"y":5,"gripped":null,"color":"lightblue"}},
	  "objs":{"1":{"type":"L","x":2,"y":3,"width":2,"height":3,"rotation":90,
	    "mirrored":true,"color":"green",
	    "target":{"x":10,"y":10,"width":2,"height":3,"rotation":0}}}
	}`), &snap)
	validate(snapshotSchema, snap)

	var update any
	_ = json.Unmarshal([]byte(`{
	  "type":"update",
	  "grippers":{"g1":{"type":"gripper","x":5.5,"y":5,"width":1,"height":1,
	    "rotation":0,"mirrored":false,"color":"lightblue","gripped":"1"}},
	  "objs":{"1":{"type":"L","x":2,"y":3,"width":3,"height":2,"rotation":90,
	    "mirrored":false,"color":"green"}},
	  "config":false
	}`), &update)
	validate(updateSchema, update)

	// A null entity value is a removal tombstone.
	var tomb any
	_ = json.Unmarshal([]byte(`{"type":"update","grippers":{"g1":null},"objs":{},"config":false}`), &tomb)
	validate(updateSchema, tomb)

	var errMsg any
	_ = json.Unmarshal([]byte(`{"type":"error","code":"E_BAD_SNAPSHOT","detail":"obj 1: missing width or height"}`), &errMsg)
	validate(errorSchema, errMsg)
}

func TestSchemas_RejectMalformedCommands(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "command.schema.json")
	schema, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	bad := []string{
		`{"type":"move","id":"g1","dx":1}`,
		`{"type":"rotate","id":"g1","direction":2}`,
		`{"type":"grip"}`,
		`{"type":"teleport","id":"g1"}`,
	}
	for _, raw := range bad {
		var cmd any
		_ = json.Unmarshal([]byte(raw), &cmd)
		if err := schema.Validate(cmd); err == nil {
			t.Fatalf("expected schema rejection for %s", raw)
		}
	}
}
