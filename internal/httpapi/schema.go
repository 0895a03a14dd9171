package httpapi

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed match_request.schema.json
var matchRequestSchemaJSON string

//go:embed save_request.schema.json
var saveRequestSchemaJSON string

type matchRequest struct {
	Text         string         `json:"text"`
	Locale       string         `json:"locale"`
	Type         string         `json:"type,omitempty"`
	LookupTarget bool           `json:"lookup_target,omitempty"`
	MatchLocales []string       `json:"match_locales,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	MaxResults   int            `json:"max_results,omitempty"`
	Threshold    int            `json:"threshold,omitempty"`
}

type variantPayload struct {
	Locale string `json:"locale"`
	Text   string `json:"text"`
}

type segmentPayload struct {
	Source     variantPayload   `json:"source"`
	Targets    []variantPayload `json:"targets"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

type saveRequest struct {
	Mode     string           `json:"mode,omitempty"`
	Username string           `json:"username,omitempty"`
	Segments []segmentPayload `json:"segments"`
}

type compiledSchema struct {
	once   sync.Once
	name   string
	source string
	schema *jsonschema.Schema
	err    error
}

var (
	matchSchema = &compiledSchema{name: "match_request.schema.json", source: matchRequestSchemaJSON}
	saveSchema  = &compiledSchema{name: "save_request.schema.json", source: saveRequestSchemaJSON}
)

func (c *compiledSchema) load() (*jsonschema.Schema, error) {
	c.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource(c.name, strings.NewReader(c.source)); err != nil {
			c.err = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile(c.name)
		if err != nil {
			c.err = fmt.Errorf("compile schema: %w", err)
			return
		}
		c.schema = schema
	})
	return c.schema, c.err
}

func decodeMatchRequest(payload []byte) (*matchRequest, error) {
	var req matchRequest
	if err := validateAgainst(matchSchema, payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeSaveRequest(payload []byte) (*saveRequest, error) {
	var req saveRequest
	if err := validateAgainst(saveSchema, payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// validateAgainst runs the payload through a schema and, when it passes,
// unmarshals the same bytes into out.
func validateAgainst(cs *compiledSchema, payload []byte, out any) error {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := cs.load()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize payload JSON: %w", err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
