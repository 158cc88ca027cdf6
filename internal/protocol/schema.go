package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Direction selects which schema set a message is checked against. LOAD
// means a chunk payload from the server and a chunk request from the client.
type Direction int

const (
	FromServer Direction = iota
	FromClient
)

var schemaFiles = map[Direction]map[string]string{
	FromServer: {
		TypeInit:   "init.schema.json",
		TypeLoad:   "load.schema.json",
		TypeUpdate: "update.schema.json",
		TypeError:  "error.schema.json",
	},
	FromClient: {
		TypeHello:  "hello.schema.json",
		TypeLoad:   "load_request.schema.json",
		TypeUpdate: "update.schema.json",
		TypeUnload: "unload.schema.json",
	},
}

var (
	schemasOnce sync.Once
	schemasErr  error
	compiled    map[string]*jsonschema.Schema
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	compiled = map[string]*jsonschema.Schema{}
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemasErr = err
		return
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
	}
	for _, e := range entries {
		s, err := c.Compile(e.Name())
		if err != nil {
			schemasErr = fmt.Errorf("%s: %w", e.Name(), err)
			return
		}
		compiled[e.Name()] = s
	}
}

// Validate decodes the routing header of raw and checks the whole message
// against the schema for its type. Unknown types are rejected.
func Validate(dir Direction, raw []byte) (BaseMessage, error) {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return BaseMessage{}, fmt.Errorf("schemas: %w", schemasErr)
	}
	base, err := DecodeBase(raw)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	name, ok := schemaFiles[dir][base.Type]
	if !ok {
		return base, fmt.Errorf("unexpected message type %q", base.Type)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := compiled[name].Validate(v); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}
