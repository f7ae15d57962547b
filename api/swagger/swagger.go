package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Swim Ops API",
        "description": "Enrolment coverage, credits and makeup capacity for the swim school",
        "version": "0.1.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Enrolments", "description": "Enrolment lifecycle, coverage and credits"},
        {"name": "Invoices", "description": "Invoicing and paid-invoice entitlements"},
        {"name": "Holidays", "description": "Holiday calendar and class cancellations"},
        {"name": "Capacity", "description": "Makeup availability and bookings"},
        {"name": "Sweep", "description": "Coverage recompute sweep"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/enrolments": {
            "get": {
                "tags": ["Enrolments"],
                "summary": "List enrolments",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "planId", "in": "query", "type": "string"},
                    {"name": "templateId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrolments"],
                "summary": "Create enrolment",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateEnrolmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrolments/{id}": {
            "get": {
                "tags": ["Enrolments"],
                "summary": "Get enrolment detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrolments/{id}/coverage": {
            "get": {
                "tags": ["Enrolments"],
                "summary": "Preview the next coverage window",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "quantity", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrolments/{id}/credits": {
            "get": {
                "tags": ["Enrolments"],
                "summary": "Get credit balance and history",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrolments"],
                "summary": "Manually adjust the credit balance",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ManualAdjustRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrolments/{id}/pause": {
            "put": {
                "tags": ["Enrolments"],
                "summary": "Pause enrolment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrolments/{id}/resume": {
            "put": {
                "tags": ["Enrolments"],
                "summary": "Resume enrolment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrolments/{id}/cancel": {
            "put": {
                "tags": ["Enrolments"],
                "summary": "Cancel enrolment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelEnrolmentRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrolments/{id}/level-change": {
            "post": {
                "tags": ["Enrolments"],
                "summary": "Move the enrolment to a new level and plan",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LevelChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Issue an invoice for upcoming coverage",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueInvoiceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/preview": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Preview coverage an invoice would grant",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueInvoiceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/{id}": {
            "get": {
                "tags": ["Invoices"],
                "summary": "Get invoice with lines",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/invoices/{id}/paid": {
            "post": {
                "tags": ["Invoices"],
                "summary": "Mark an invoice paid and apply entitlements",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/holidays": {
            "get": {
                "tags": ["Holidays"],
                "summary": "List holidays overlapping a date range",
                "parameters": [
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Holidays"],
                "summary": "Create a holiday",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/HolidayRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/holidays/{id}": {
            "put": {
                "tags": ["Holidays"],
                "summary": "Update a holiday",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/HolidayRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Holidays"],
                "summary": "Delete a holiday",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/cancellations": {
            "post": {
                "tags": ["Holidays"],
                "summary": "Cancel one class occurrence and credit affected students",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CancelOccurrenceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/cancellations/{templateId}/{date}": {
            "delete": {
                "tags": ["Holidays"],
                "summary": "Reinstate a cancelled class occurrence",
                "parameters": [
                    {"name": "templateId", "in": "path", "required": true, "type": "string"},
                    {"name": "date", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/capacity/availabilities": {
            "get": {
                "tags": ["Capacity"],
                "summary": "List free makeup seats per class occurrence",
                "parameters": [
                    {"name": "templateIds", "in": "query", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/capacity/makeups": {
            "post": {
                "tags": ["Capacity"],
                "summary": "Book a makeup seat at a class occurrence",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BookMakeupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Capacity exceeded or spot taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sweep/recompute": {
            "post": {
                "tags": ["Sweep"],
                "summary": "Recompute coverage projections for a date range",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DateRange"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateEnrolmentRequest": {
            "type": "object",
            "properties": {
                "student_id": {"type": "string"},
                "plan_id": {"type": "string"},
                "template_ids": {"type": "array", "items": {"type": "string"}},
                "start_date": {"type": "string"},
                "level_id": {"type": "string"}
            },
            "required": ["student_id", "plan_id", "template_ids", "start_date"]
        },
        "CancelEnrolmentRequest": {
            "type": "object",
            "properties": {
                "end_date": {"type": "string"}
            },
            "required": ["end_date"]
        },
        "ManualAdjustRequest": {
            "type": "object",
            "properties": {
                "credits_delta": {"type": "integer"},
                "note": {"type": "string"}
            },
            "required": ["credits_delta", "note"]
        },
        "LevelChangeRequest": {
            "type": "object",
            "properties": {
                "new_plan_id": {"type": "string"},
                "new_template_ids": {"type": "array", "items": {"type": "string"}},
                "new_level_id": {"type": "string"},
                "effective_date": {"type": "string"}
            },
            "required": ["new_plan_id", "new_template_ids", "effective_date"]
        },
        "IssueInvoiceRequest": {
            "type": "object",
            "properties": {
                "enrolment_id": {"type": "string"},
                "quantity": {"type": "integer"},
                "custom_block_length": {"type": "integer"}
            },
            "required": ["enrolment_id", "quantity"]
        },
        "HolidayRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "start_date": {"type": "string"},
                "end_date": {"type": "string"},
                "template_id": {"type": "string"},
                "level_id": {"type": "string"}
            },
            "required": ["name", "start_date", "end_date"]
        },
        "CancelOccurrenceRequest": {
            "type": "object",
            "properties": {
                "template_id": {"type": "string"},
                "date": {"type": "string"},
                "reason": {"type": "string"}
            },
            "required": ["template_id", "date"]
        },
        "BookMakeupRequest": {
            "type": "object",
            "properties": {
                "enrolment_id": {"type": "string"},
                "template_id": {"type": "string"},
                "date": {"type": "string"},
                "override": {"type": "boolean"}
            },
            "required": ["enrolment_id", "template_id", "date"]
        },
        "DateRange": {
            "type": "object",
            "properties": {
                "start": {"type": "string"},
                "end": {"type": "string"}
            },
            "required": ["start", "end"]
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
