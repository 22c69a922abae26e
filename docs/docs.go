// Package docs registers the OpenAPI description served at /swagger.
// Kept in sync with the swag annotations in internal/http by hand.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/medicines": {
            "get": {
                "produces": ["application/json"],
                "tags": ["medicines"],
                "summary": "List medicines",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Name contains", "name": "q", "in": "query"},
                    {"type": "string", "description": "Category", "name": "category", "in": "query"},
                    {"type": "boolean", "description": "Only quantity <= reorder level", "name": "low_stock", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpapi.medicineList"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["medicines"],
                "summary": "Create medicine",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"description": "Medicine", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.medicineReq"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Medicine"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/medicines/low-stock": {
            "get": {
                "description": "Medicines whose quantity is at or below their reorder level.",
                "produces": ["application/json"],
                "tags": ["medicines"],
                "summary": "Low-stock medicines",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpapi.medicineList"}}
                }
            }
        },
        "/medicines/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["medicines"],
                "summary": "Get medicine by id",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Medicine ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Medicine"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["medicines"],
                "summary": "Update medicine",
                "description": "Partial update: only the fields present in the body are changed.",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Medicine ID", "name": "id", "in": "path", "required": true},
                    {"description": "Update", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.updateMedicineReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Medicine"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            },
            "delete": {
                "tags": ["medicines"],
                "summary": "Delete medicine",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Medicine ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/prescriptions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "List prescriptions",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "string", "description": "Status filter", "name": "status", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpapi.prescriptionList"}}
                }
            },
            "post": {
                "description": "Matches items against the owner's stock, derives status and total. Nothing is reserved.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "Create prescription",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"description": "Prescription", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.createPrescriptionReq"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.Prescription"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/prescriptions/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "Get prescription by id",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Prescription ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Prescription"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/prescriptions/{id}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "Cancel prescription",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Prescription ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Prescription"}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/prescriptions/{id}/complete": {
            "post": {
                "description": "Re-validates stock and deducts it for items available at creation, atomically.",
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "Complete prescription",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Prescription ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Prescription"}},
                    "404": {"description": "Not Found", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/prescriptions/{id}/status": {
            "put": {
                "description": "Administrative override without stock effects; \"completed\" is refused, use /complete.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["prescriptions"],
                "summary": "Override prescription status",
                "parameters": [
                    {"type": "string", "description": "Owner", "name": "X-Owner-ID", "in": "header", "required": true},
                    {"type": "integer", "description": "Prescription ID", "name": "id", "in": "path", "required": true},
                    {"description": "Status", "name": "input", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpapi.setStatusReq"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Prescription"}},
                    "400": {"description": "Bad Request", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "409": {"description": "Conflict", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "domain.Medicine": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "generic_name": {"type": "string"},
                "category": {"type": "string"},
                "manufacturer": {"type": "string"},
                "batch_number": {"type": "string"},
                "expiry_date": {"type": "string"},
                "quantity": {"type": "integer"},
                "reorder_level": {"type": "integer"},
                "price": {"type": "string"},
                "owner_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.PrescriptionItem": {
            "type": "object",
            "properties": {
                "medicine_id": {"type": "integer"},
                "medicine_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "dosage": {"type": "string"},
                "unit_price": {"type": "string"},
                "match": {"type": "string", "enum": ["unmatched", "insufficient", "available"]}
            }
        },
        "domain.Prescription": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "prescription_id": {"type": "string"},
                "patient_name": {"type": "string"},
                "patient_age": {"type": "integer"},
                "patient_phone": {"type": "string"},
                "doctor_name": {"type": "string"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/domain.PrescriptionItem"}},
                "status": {"type": "string", "enum": ["pending", "processing", "partial", "completed", "cancelled"]},
                "total_amount": {"type": "string"},
                "notes": {"type": "string"},
                "owner_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "completed_at": {"type": "string"}
            }
        },
        "httpapi.medicineReq": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "generic_name": {"type": "string"},
                "category": {"type": "string"},
                "manufacturer": {"type": "string"},
                "batch_number": {"type": "string"},
                "expiry_date": {"type": "string"},
                "quantity": {"type": "integer"},
                "reorder_level": {"type": "integer"},
                "price": {"type": "number"}
            }
        },
        "httpapi.updateMedicineReq": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "generic_name": {"type": "string"},
                "category": {"type": "string"},
                "manufacturer": {"type": "string"},
                "batch_number": {"type": "string"},
                "expiry_date": {"type": "string"},
                "quantity": {"type": "integer"},
                "reorder_level": {"type": "integer"},
                "price": {"type": "number"}
            }
        },
        "httpapi.medicineList": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "medicines": {"type": "array", "items": {"$ref": "#/definitions/domain.Medicine"}}
            }
        },
        "httpapi.createPrescriptionReq": {
            "type": "object",
            "properties": {
                "patient_name": {"type": "string"},
                "patient_age": {"type": "integer"},
                "patient_phone": {"type": "string"},
                "doctor_name": {"type": "string"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/service.RequestedItem"}},
                "notes": {"type": "string"}
            }
        },
        "httpapi.prescriptionList": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "prescriptions": {"type": "array", "items": {"$ref": "#/definitions/domain.Prescription"}}
            }
        },
        "httpapi.setStatusReq": {
            "type": "object",
            "properties": {
                "status": {"type": "string"}
            }
        },
        "service.RequestedItem": {
            "type": "object",
            "properties": {
                "medicine_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "dosage": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Pharmacy prescription fulfillment API",
	Description:      "Medicine catalog and prescription fulfillment with atomic stock deduction.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
