package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"alertflow/internal/types"
	"alertflow/internal/workflow"
)

// workflowDoc is one YAML document in a workflow file. Keys follow the API's
// JSON names (flow_definition, escalation_policy, ...), so the document is
// decoded generically and re-read through the JSON tags of types.Workflow.
type workflowDoc struct {
	Source string
	Index  int
	Flow   *types.Workflow
}

// loadFile reads every document of a multi-document YAML stream.
func loadFile(path string) ([]workflowDoc, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeWorkflows(path, f)
}

func decodeWorkflows(source string, r io.Reader) ([]workflowDoc, error) {
	dec := yaml.NewDecoder(r)
	var docs []workflowDoc
	for i := 0; ; i++ {
		var raw map[string]any
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", source, i, err)
		}
		if raw == nil {
			continue
		}
		wf, err := workflowFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", source, i, err)
		}
		docs = append(docs, workflowDoc{Source: source, Index: i, Flow: wf})
	}
	return docs, nil
}

// workflowFromMap converts a decoded document. Workflows are active unless
// is_active says otherwise.
func workflowFromMap(raw map[string]any) (*types.Workflow, error) {
	if _, ok := raw["is_active"]; !ok {
		raw["is_active"] = true
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var wf types.Workflow
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// validateDoc checks what the API checks on save, plus an id: apply upserts
// by id.
func validateDoc(d workflowDoc) error {
	if d.Flow.ID == "" {
		return &types.ConfigurationError{Field: "id", Reason: "id is required"}
	}
	return workflow.ValidateWorkflow(d.Flow)
}

// encodeWorkflows writes workflows as a YAML stream in the same shape
// loadFile reads. Timestamps and the organization are left out.
func encodeWorkflows(w io.Writer, wfs []*types.Workflow) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, wf := range wfs {
		body, err := json.Marshal(wf)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			return err
		}
		delete(doc, "organization_id")
		delete(doc, "created_at")
		delete(doc, "updated_at")
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
	return enc.Close()
}
