// Package docs holds the OpenAPI document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Lumen Maintainers",
            "url": "https://github.com/raysh454/lumen"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/scans": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "List scans",
                "parameters": [
                    {"type": "string", "name": "userId", "in": "query"},
                    {"type": "string", "name": "status", "in": "query", "enum": ["pending", "processing", "completed", "failed"]},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Submit a scan",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.SubmitScanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/server.ScanAccepted"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}},
                    "503": {"description": "Stored but not queued", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/scans/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Scan counts by status",
                "parameters": [{"type": "string", "name": "userId", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/scans/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Get a scan",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["scans"],
                "summary": "Delete a scan and its artifacts",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/scans/{id}/rescan": {
            "post": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Scan the same URL again under a new id",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/server.ScanAccepted"}}}
            }
        },
        "/scans/{id}/requeue": {
            "post": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Queue a pending scan again",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/server.ScanAccepted"}},
                    "409": {"description": "Scan is not pending", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/scans/{id}/diff": {
            "get": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Compare a scan against a base scan of the same URL",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "base", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/scans/{id}/report": {
            "get": {
                "produces": ["text/markdown", "application/pdf", "application/json"],
                "tags": ["reports"],
                "summary": "Render a completed scan",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "format", "in": "query", "enum": ["md", "pdf", "json"]}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/scans/{id}/analysis": {
            "post": {
                "produces": ["application/json"],
                "tags": ["reports"],
                "summary": "Remediation advice for a completed scan",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "501": {"description": "Analysis disabled", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/queue/stats": {
            "get": {"produces": ["application/json"], "tags": ["queue"], "summary": "Queue statistics", "responses": {"200": {"description": "OK"}}}
        },
        "/queue/pause": {
            "post": {"produces": ["application/json"], "tags": ["queue"], "summary": "Stop dispatching jobs", "responses": {"200": {"description": "OK"}}}
        },
        "/queue/resume": {
            "post": {"produces": ["application/json"], "tags": ["queue"], "summary": "Resume dispatching jobs", "responses": {"200": {"description": "OK"}}}
        },
        "/queue/drain": {
            "post": {"produces": ["application/json"], "tags": ["queue"], "summary": "Drop every waiting job", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/server.DrainResponse"}}}}
        },
        "/health": {
            "get": {"produces": ["application/json"], "tags": ["ops"], "summary": "Readiness of store and queue", "responses": {"200": {"description": "OK"}, "503": {"description": "Degraded"}}}
        }
    },
    "definitions": {
        "server.SubmitScanRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"},
                "userId": {"type": "string", "example": "user-42"},
                "priority": {"type": "integer", "example": 0}
            }
        },
        "server.ScanAccepted": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "jobId": {"type": "string"},
                "url": {"type": "string"},
                "status": {"type": "string", "example": "pending"},
                "createdAt": {"type": "string"}
            }
        },
        "server.DrainResponse": {
            "type": "object",
            "properties": {"removed": {"type": "integer", "example": 3}}
        },
        "server.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "scan not found"},
                "scanId": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Lumen API",
	Description:      "Asynchronous accessibility scans: submit a URL, poll the scan, fetch reports.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
