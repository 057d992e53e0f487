package core

import (
	"time"

	"github.com/Cypherspark/shopsense/internal/intent"
)

// ClassifiedInbound builds an InboundRequest with intent, action and suggested
// reply filled from the message text.
func ClassifiedInbound(phoneNumber, body string, providerID *string, receivedAt time.Time) InboundRequest {
	r := intent.Classify(body)
	return InboundRequest{
		PhoneNumber:       phoneNumber,
		Body:              body,
		ProviderMessageID: providerID,
		ReceivedAt:        receivedAt,
		Intent:            &r.Intent,
		Action:            &r.Action,
		AIResponse:        &r.Response,
	}
}
