package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	openAPIOnce sync.Once
	openAPIDoc  []byte
	openAPIErr  error
)

// schemaFor reflects a body type into an inline JSON schema object
func schemaFor(v any) map[string]any {
	reflector := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

func jsonContent(ref string) map[string]any {
	return map[string]any{
		"application/json": map[string]any{
			"schema": map[string]any{"$ref": "#/components/schemas/" + ref},
		},
	}
}

func errorResponse(description string) map[string]any {
	return map[string]any{"description": description, "content": jsonContent("ErrorResponse")}
}

// OpenAPIDocument builds the OpenAPI 3 description of the relay
func OpenAPIDocument() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   APITitle,
			"version": APIVersion,
		},
		"paths": map[string]any{
			"/query": map[string]any{
				"post": map[string]any{
					"summary":     "Process queries with MCP Agent",
					"security":    []any{map[string]any{"bearerAuth": []any{}}},
					"requestBody": map[string]any{"required": true, "content": jsonContent("QueryRequest")},
					"responses": map[string]any{
						"200": map[string]any{"description": "Agent answer", "content": jsonContent("QueryResponse")},
						"400": errorResponse("Malformed body or empty query"),
						"401": errorResponse("Missing or invalid bearer token"),
						"429": errorResponse("Rate limit exceeded"),
						"500": errorResponse("Agent not initialized or the run failed"),
						"503": errorResponse("Shutting down or the client left while queued"),
					},
				},
			},
			"/health": map[string]any{
				"get": map[string]any{
					"summary": "Health check",
					"responses": map[string]any{
						"200": map[string]any{"description": "Service health", "content": jsonContent("HealthResponse")},
					},
				},
			},
			"/": map[string]any{
				"get": map[string]any{
					"summary": "API metadata",
					"responses": map[string]any{
						"200": map[string]any{"description": "Static metadata", "content": jsonContent("RootResponse")},
					},
				},
			},
			"/metrics": map[string]any{
				"get": map[string]any{
					"summary": "Prometheus metrics",
					"responses": map[string]any{
						"200": map[string]any{"description": "Prometheus text exposition"},
					},
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
			"schemas": map[string]any{
				"QueryRequest":   schemaFor(&QueryRequest{}),
				"QueryResponse":  schemaFor(&QueryResponse{}),
				"HealthResponse": schemaFor(&HealthResponse{}),
				"RootResponse":   schemaFor(&RootResponse{}),
				"ErrorResponse":  schemaFor(&ErrorResponse{}),
			},
		},
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	openAPIOnce.Do(func() {
		openAPIDoc, openAPIErr = json.Marshal(OpenAPIDocument())
	})
	if openAPIErr != nil {
		writeError(w, http.StatusInternalServerError, KindInternal, "failed to render API description")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDoc)
}
