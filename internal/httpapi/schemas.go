package httpapi

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dshills/orderflow/pkg/types"
)

const schemaCreateOrder = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["items", "delivery_address"],
  "properties": {
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["product_id", "quantity"],
        "properties": {
          "product_id": { "type": "string", "minLength": 1 },
          "quantity": { "type": "integer", "minimum": 1 },
          "unit_price": { "type": ["number", "string"] }
        }
      }
    },
    "delivery_address": { "type": "string", "minLength": 1 },
    "delivery_notes": { "type": "string" }
  }
}`

const schemaInitiatePayment = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["order_id", "phone_number"],
  "properties": {
    "order_id": { "type": "string", "minLength": 1 },
    "phone_number": { "type": "string", "minLength": 9 }
  }
}`

// schemaUpdateStatus lists every status so the error for an unknown one is a
// schema violation rather than a service error
var schemaUpdateStatus = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": { "type": "string", "enum": [%s] }
  }
}`, quotedStatuses())

func quotedStatuses() string {
	all := []types.OrderStatus{
		types.OrderPendingPayment, types.OrderPaymentConfirmed, types.OrderProcessing,
		types.OrderShipped, types.OrderDelivered, types.OrderCompleted,
		types.OrderCancelled, types.OrderRefunded,
	}
	quoted := make([]string, len(all))
	for i, s := range all {
		quoted[i] = `"` + string(s) + `"`
	}
	return strings.Join(quoted, ", ")
}

var (
	createOrderSchema     = mustSchema(schemaCreateOrder)
	initiatePaymentSchema = mustSchema(schemaInitiatePayment)
	updateStatusSchema    = mustSchema(schemaUpdateStatus)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return schema
}

// validateBody checks body against schema, returning a validation error
// listing every violation
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return types.Wrap(types.KindValidation, err, "invalid JSON body")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return types.E(types.KindValidation, "request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
