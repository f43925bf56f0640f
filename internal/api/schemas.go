package api

import "github.com/example/business-ledger/internal/security"

// Schemas check shape only. Amount positivity, string lengths and metadata
// rules are enforced by the ledger so every transport reports them the same way.

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_name"],
  "properties": {
    "account_name": {"type": "string", "minLength": 1},
    "currency": {"type": "string"},
    "initial_balance_cents": {"type": "integer"}
  }
}`

const creditSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "amount_cents"],
  "properties": {
    "account_id": {"type": "string"},
    "amount_cents": {"type": "integer"},
    "description": {"type": ["string", "null"]},
    "idempotency_key": {"type": ["string", "null"]},
    "metadata": {"type": ["object", "null"]}
  }
}`

const debitSchema = creditSchema

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["from_account_id", "to_account_id", "amount_cents"],
  "properties": {
    "from_account_id": {"type": "string"},
    "to_account_id": {"type": "string"},
    "amount_cents": {"type": "integer"},
    "description": {"type": ["string", "null"]},
    "idempotency_key": {"type": ["string", "null"]},
    "metadata": {"type": ["object", "null"]}
  }
}`

const registerWebhookSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["url"],
  "properties": {
    "url": {"type": "string", "minLength": 1}
  }
}`

var (
	createAccountV   = security.MustJSONSchemaValidator("create_account.json", createAccountSchema)
	creditV          = security.MustJSONSchemaValidator("credit.json", creditSchema)
	debitV           = security.MustJSONSchemaValidator("debit.json", debitSchema)
	transferV        = security.MustJSONSchemaValidator("transfer.json", transferSchema)
	registerWebhookV = security.MustJSONSchemaValidator("register_webhook.json", registerWebhookSchema)
)
