package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// EntryTypeMessage is the only entry type in the persisted pending-state
// format.
const EntryTypeMessage = "message"

// PendingStateEntry is one persisted pending-state record.
//
// RuntimeOp and LocalOpMetadata are only meaningful before serialization;
// rehydration re-parses Content and regenerates local metadata, so both are
// dropped on encode.
type PendingStateEntry struct {
	Type                    string         `json:"type"`
	ReferenceSequenceNumber int64          `json:"referenceSequenceNumber"`
	Content                 string         `json:"content"`
	RuntimeOp               *RuntimeOp     `json:"runtimeOp,omitempty"`
	LocalOpMetadata         any            `json:"localOpMetadata,omitempty"`
	OpMetadata              map[string]any `json:"opMetadata,omitempty"`
	SequenceNumber          int64          `json:"sequenceNumber,omitempty"`

	// BatchInfo is absent in records written by old clients. DecodeLocalState
	// back-fills it.
	BatchInfo *BatchInfo `json:"batchInfo,omitempty"`
}

// LocalState is the persisted pending state of one document session.
type LocalState struct {
	PendingStates []PendingStateEntry `json:"pendingStates"`
}

const localStateSchemaText = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["pendingStates"],
	"properties": {
		"pendingStates": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["type", "referenceSequenceNumber", "content"],
				"properties": {
					"type": {"const": "message"},
					"referenceSequenceNumber": {"type": "integer"},
					"content": {"type": "string"},
					"opMetadata": {"type": "object"},
					"sequenceNumber": {"type": "integer"},
					"batchInfo": {
						"type": "object",
						"required": ["clientId", "batchStartCsn", "length"],
						"properties": {
							"clientId": {"type": "string"},
							"batchStartCsn": {"type": "integer"},
							"length": {"type": "integer"},
							"ignoreBatchId": {"type": "boolean"},
							"staged": {"type": "boolean"}
						}
					}
				}
			}
		}
	}
}`

var localStateSchema = mustCompileLocalStateSchema()

func mustCompileLocalStateSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(localStateSchemaText))
	if err != nil {
		panic(fmt.Sprintf("invalid pending-state schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("pending-state.schema.json", doc); err != nil {
		panic(fmt.Sprintf("invalid pending-state schema: %v", err))
	}
	schema, err := compiler.Compile("pending-state.schema.json")
	if err != nil {
		panic(fmt.Sprintf("invalid pending-state schema: %v", err))
	}
	return schema
}

// DecodeLocalState validates and decodes a persisted pending-state document.
//
// It accepts both the current record shape and the legacy shape without batch
// info. Legacy records are back-filled with a freshly generated client id and
// sentinel start/length, preserving the prior semantics of "never matches any
// real batch".
func DecodeLocalState(data []byte) (*LocalState, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pending state is not valid JSON: %w", err)
	}
	if err := localStateSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("pending state failed schema validation: %w", err)
	}

	var state LocalState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode pending state: %w", err)
	}

	for i := range state.PendingStates {
		entry := &state.PendingStates[i]
		if entry.Type != EntryTypeMessage {
			return nil, fmt.Errorf("unknown pending state entry type %q", entry.Type)
		}
		if entry.BatchInfo == nil {
			entry.BatchInfo = &BatchInfo{
				ClientID:      uuid.NewString(),
				BatchStartCSN: UnsentBatchStartCSN,
				Length:        -1,
			}
		}
	}
	return &state, nil
}

// Encode serializes the state for persistence, dropping the fields that are
// only meaningful in memory.
func (s *LocalState) Encode() ([]byte, error) {
	out := LocalState{PendingStates: make([]PendingStateEntry, len(s.PendingStates))}
	for i, entry := range s.PendingStates {
		entry.RuntimeOp = nil
		entry.LocalOpMetadata = nil
		out.PendingStates[i] = entry
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending state: %w", err)
	}
	return data, nil
}
