package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SGP Workflow API",
        "description": "Assignment and follow-up workflow engine for practice requests",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "workflow", "description": "Request lifecycle operations"},
        {"name": "visits", "description": "Visit ledger and evidence"},
        {"name": "exports", "description": "Follow-up summary exports"}
    ],
    "paths": {
        "/requests/{id}/assign": {
            "post": {
                "tags": ["workflow"],
                "summary": "Assign an instructor to a practice request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignRequest"}}
                ],
                "responses": {
                    "201": {"description": "Assignment created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Request not found"},
                    "409": {"description": "Request not in an assignable state"}
                }
            }
        },
        "/requests/{id}/valuation": {
            "post": {
                "tags": ["workflow"],
                "summary": "Submit the instructor's valuation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InstructorValuationRequest"}}
                ],
                "responses": {
                    "201": {"description": "Valuation recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Caller is not the responsible instructor"},
                    "409": {"description": "Request not awaiting valuation"}
                }
            }
        },
        "/requests/{id}/review": {
            "post": {
                "tags": ["workflow"],
                "summary": "Record the coordinator's decision",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CoordinatorReviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "Decision recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already reviewed or not reviewable"}
                }
            }
        },
        "/requests/{id}/confirm": {
            "post": {
                "tags": ["workflow"],
                "summary": "Confirm the contract of a pre-approved request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Request approved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already confirmed or not confirmable"}
                }
            }
        },
        "/requests/{id}/messages": {
            "get": {
                "tags": ["workflow"],
                "summary": "List the message trail in chronological order",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Message trail", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}/assignments": {
            "get": {
                "tags": ["workflow"],
                "summary": "List all assignment records of a request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Assignment history", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/review-queue": {
            "get": {
                "tags": ["workflow"],
                "summary": "List requests awaiting coordinator attention",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "Review queue", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/reassign": {
            "post": {
                "tags": ["workflow"],
                "summary": "Replace the responsible instructor",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReassignRequest"}}
                ],
                "responses": {
                    "201": {"description": "Replacement created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Assignment modified concurrently"}
                }
            }
        },
        "/assignments/{id}/visits": {
            "get": {
                "tags": ["visits"],
                "summary": "Get the visit ledger of an assignment",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Visit ledger", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/visits/complete": {
            "post": {
                "tags": ["visits"],
                "summary": "Complete the next visit milestone",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "target_milestone", "in": "formData", "type": "string", "required": true},
                    {"name": "observations", "in": "formData", "type": "string", "required": true},
                    {"name": "evidence", "in": "formData", "type": "file", "required": false}
                ],
                "responses": {
                    "200": {"description": "Milestone completed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Milestone already completed or out of order"}
                }
            }
        },
        "/assignments/{id}/visits/{milestone}/evidence-link": {
            "get": {
                "tags": ["visits"],
                "summary": "Issue a signed evidence download link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "milestone", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Signed link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/evidence": {
            "get": {
                "tags": ["visits"],
                "summary": "Download an evidence document via a signed token",
                "parameters": [
                    {"name": "token", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Evidence document"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        },
        "/assignments/{id}/export": {
            "post": {
                "tags": ["exports"],
                "summary": "Render a follow-up summary to CSV or PDF",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FollowUpExportRequest"}}
                ],
                "responses": {
                    "201": {"description": "Export rendered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["exports"],
                "summary": "Download a rendered export via a signed token",
                "parameters": [
                    {"name": "token", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Export file"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "AssignRequest": {
            "type": "object",
            "required": ["instructor_id"],
            "properties": {
                "instructor_id": {"type": "string"}
            }
        },
        "ReassignRequest": {
            "type": "object",
            "required": ["new_instructor_id", "reason"],
            "properties": {
                "new_instructor_id": {"type": "string"},
                "reason": {"type": "string"},
                "expected_version": {"type": "integer"}
            }
        },
        "InstructorValuationRequest": {
            "type": "object",
            "required": ["outcome", "message"],
            "properties": {
                "outcome": {"type": "string", "enum": ["APPROVE", "REJECT"]},
                "message": {"type": "string"}
            }
        },
        "CoordinatorReviewRequest": {
            "type": "object",
            "required": ["outcome", "message"],
            "properties": {
                "outcome": {"type": "string", "enum": ["APPROVE", "REJECT"]},
                "message": {"type": "string"},
                "start_date": {"type": "string", "format": "date"},
                "end_date": {"type": "string", "format": "date"}
            }
        },
        "FollowUpExportRequest": {
            "type": "object",
            "required": ["format"],
            "properties": {
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
