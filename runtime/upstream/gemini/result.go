package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Result kinds forwarded to the client as result payloads.
const (
	KindText         = "text"
	KindAudio        = "audio"
	KindTurnComplete = "turn_complete"
	KindInterrupted  = "interrupted"
	KindReport       = "report"
)

// ReportFunction is the function the model calls with the final inspection
// report.
const ReportFunction = "submit_report"

// Result is the payload of one result message.
type Result struct {
	Kind     string          `json:"kind"`
	Text     string          `json:"text,omitempty"`
	MimeType string          `json:"mime_type,omitempty"`
	Data     string          `json:"data,omitempty"`
	Report   json.RawMessage `json:"report,omitempty"`
	Valid    *bool           `json:"valid,omitempty"`
	Problems []string        `json:"problems,omitempty"`
}

// reportParameters is the submit_report declaration in the backend's OpenAPI
// subset.
const reportParameters = `{
  "type": "OBJECT",
  "properties": {
    "summary": {"type": "STRING", "description": "Final summary of the inspection."},
    "status": {"type": "STRING", "enum": ["success", "aborted"], "description": "Status of the inspection."},
    "damages": {
      "type": "ARRAY",
      "items": {
        "type": "OBJECT",
        "properties": {
          "part": {"type": "STRING", "description": "Car part name."},
          "type": {"type": "STRING", "description": "Type of damage."},
          "description": {"type": "STRING", "description": "Description of damage."}
        },
        "required": ["part", "type"]
      }
    },
    "fraud_factors": {"type": "ARRAY", "items": {"type": "STRING"}, "description": "List of suspicious factors."}
  },
  "required": ["summary", "status", "damages"]
}`

// reportSchema is the same contract as JSON Schema, used to check what the
// model actually sent.
const reportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "status": {"type": "string", "enum": ["success", "aborted"]},
    "damages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "part": {"type": "string"},
          "type": {"type": "string"},
          "description": {"type": "string"}
        },
        "required": ["part", "type"]
      }
    },
    "fraud_factors": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["summary", "status", "damages"]
}`

var compiledReportSchema = mustCompile(reportSchema)

func mustCompile(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid report schema: %v", err))
	}
	return s
}

// ValidateReport checks report arguments against the submit_report contract
// and returns the list of problems, empty when valid.
func ValidateReport(args json.RawMessage) []string {
	if len(args) == 0 {
		return []string{"report has no arguments"}
	}
	res, err := compiledReportSchema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return []string{fmt.Sprintf("report is not valid JSON: %v", err)}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return problems
}

func reportResult(args json.RawMessage) Result {
	problems := ValidateReport(args)
	valid := len(problems) == 0
	report := args
	if !json.Valid(report) {
		report = nil
	}
	return Result{Kind: KindReport, Report: report, Valid: &valid, Problems: problems}
}

// resultsFrom converts a server message into client results, in order.
func resultsFrom(msg *ServerMessage) []Result {
	var out []Result

	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.Text != "":
					out = append(out, Result{Kind: KindText, Text: p.Text})
				case p.InlineData != nil:
					out = append(out, Result{Kind: KindAudio, MimeType: p.InlineData.MimeType, Data: p.InlineData.Data})
				case p.FunctionCall != nil && p.FunctionCall.Name == ReportFunction:
					out = append(out, reportResult(p.FunctionCall.Args))
				}
			}
		}
		if sc.Interrupted {
			out = append(out, Result{Kind: KindInterrupted})
		}
		if sc.TurnComplete {
			out = append(out, Result{Kind: KindTurnComplete})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc.Name == ReportFunction {
				out = append(out, reportResult(fc.Args))
			}
		}
	}

	return out
}
