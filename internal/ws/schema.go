// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Threadline Contributors

package ws

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID identifies the client frame schema.
const SchemaID = "https://threadline.dev/schemas/client-frame.json"

// Client frame types.
const (
	FrameJoin   = "join"
	FrameTyping = "typing"
)

// JoinFrame subscribes the socket's user to a set of channels. Sending it
// again replaces the subscription.
type JoinFrame struct {
	Type     string   `json:"type" jsonschema:"enum=join"`
	UserID   string   `json:"userId" jsonschema:"minLength=1"`
	Channels []string `json:"channels,omitempty"`
}

// TypingFrame announces that the user started or stopped typing.
type TypingFrame struct {
	Type      string `json:"type" jsonschema:"enum=typing"`
	UserID    string `json:"userId" jsonschema:"minLength=1"`
	ChannelID string `json:"channelId" jsonschema:"minLength=1"`
	IsTyping  bool   `json:"isTyping"`
}

var (
	compileOnce sync.Once
	compiled    *jschema.Schema
	compileErr  error
)

func clientSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	join := r.Reflect(&JoinFrame{})
	typing := r.Reflect(&TypingFrame{})
	join.Version, typing.Version = "", ""
	join.Title, typing.Title = "join", "typing"

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		ID:          jsonschema.ID(SchemaID),
		Title:       "Threadline client frame",
		Description: "Frames a WebSocket client may send to the server",
		OneOf:       []*jsonschema.Schema{join, typing},
	}
}

// GenerateSchema returns the client frame JSON Schema as indented JSON.
func GenerateSchema() ([]byte, error) {
	data, err := json.MarshalIndent(clientSchema(), "", "  ")
	if err != nil {
		return nil, oops.With("operation", "marshal schema").Wrap(err)
	}
	return data, nil
}

// GenerateSchemaYAML returns the client frame JSON Schema rendered as YAML.
func GenerateSchemaYAML() ([]byte, error) {
	data, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.With("operation", "convert schema to yaml").Wrap(err)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, oops.With("operation", "convert schema to yaml").Wrap(err)
	}
	return out, nil
}

func compiledSchema() (*jschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := jschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = oops.With("operation", "parse schema").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource(SchemaID, doc); err != nil {
			compileErr = oops.With("operation", "add schema resource").Wrap(err)
			return
		}
		compiled, compileErr = c.Compile(SchemaID)
	})
	return compiled, compileErr
}

// ValidateFrame checks a raw client frame against the schema.
func ValidateFrame(frame []byte) error {
	doc, err := jschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return ErrInvalidFrame("frame is not valid JSON")
	}
	sch, err := compiledSchema()
	if err != nil {
		return oops.With("operation", "compile client schema").Wrap(err)
	}
	if err := sch.Validate(doc); err != nil {
		return oops.Code(CodeInvalidFrame).
			With("detail", err.Error()).
			Errorf("frame does not match the client schema")
	}
	return nil
}
