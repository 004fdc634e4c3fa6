// Package docs registers the OpenAPI description served under /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/credits": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Credits"],
                "summary": "Get balance",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {"credits": {"type": "integer"}}}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/transactions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Credits"],
                "summary": "Transaction history",
                "parameters": [{"type": "integer", "description": "Maximum entries (default 100)", "name": "limit", "in": "query"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "properties": {"transactions": {"type": "array", "items": {"$ref": "#/definitions/models.LedgerEntry"}}}}}
                }
            }
        },
        "/admin/accounts/{accountId}/credit": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "Credit account",
                "parameters": [
                    {"type": "integer", "name": "accountId", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AdjustRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}}
            }
        },
        "/admin/accounts/{accountId}/debit": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Admin"],
                "summary": "Debit account",
                "parameters": [
                    {"type": "integer", "name": "accountId", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AdjustRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}}
            }
        },
        "/calls": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "Start call",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.InitiateRequest"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.Call"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/calls/{callId}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "Get call",
                "parameters": [{"type": "integer", "name": "callId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Call"}}}
            }
        },
        "/calls/{callId}/accept": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "Accept call",
                "parameters": [{"type": "integer", "name": "callId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Call"}}, "409": {"description": "Conflict"}}
            }
        },
        "/calls/{callId}/reject": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "Reject call",
                "parameters": [{"type": "integer", "name": "callId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Call"}}, "409": {"description": "Conflict"}}
            }
        },
        "/calls/{callId}/end": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "End call",
                "parameters": [{"type": "integer", "name": "callId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Call"}}, "409": {"description": "Conflict"}}
            }
        },
        "/signals": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Calls"],
                "summary": "Relay signal",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.SignalRequest"}}],
                "responses": {"204": {"description": "No Content"}, "409": {"description": "Conflict"}}
            }
        }
    },
    "definitions": {
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "services.InitiateRequest": {
            "type": "object",
            "properties": {
                "receiverId": {"type": "integer"},
                "callType": {"type": "string", "enum": ["audio", "video"]},
                "aiTranslated": {"type": "boolean"},
                "sourceLanguage": {"type": "string"},
                "targetLanguage": {"type": "string"}
            }
        },
        "handlers.AdjustRequest": {
            "type": "object",
            "properties": {"amount": {"type": "integer"}, "description": {"type": "string"}}
        },
        "handlers.SignalRequest": {
            "type": "object",
            "properties": {"callId": {"type": "integer"}, "targetId": {"type": "integer"}, "signal": {"type": "object"}}
        },
        "models.LedgerEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "account_id": {"type": "integer"},
                "type": {"type": "string"},
                "amount": {"type": "integer"},
                "description": {"type": "string"},
                "reference": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "models.Call": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "callerId": {"type": "integer"},
                "receiverId": {"type": "integer"},
                "callType": {"type": "string"},
                "status": {"type": "string"},
                "endReason": {"type": "string"},
                "aiTranslated": {"type": "boolean"},
                "duration": {"type": "integer"},
                "cost": {"type": "integer"},
                "startedAt": {"type": "string"},
                "endedAt": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Call Billing Backend API",
	Description:      "Credits ledger and metered call sessions",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
