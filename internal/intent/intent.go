// Package intent labels inbound customer texts with a purpose, a follow-up
// action and a suggested reply. Rules are keyword based and checked in order,
// so an emergency wins over a booking request in the same text.
package intent

import "strings"

const (
	Emergency = "emergency"
	Booking   = "booking"
	Quote     = "quote"
	Status    = "status"
	General   = "general"
)

type Result struct {
	Intent   string
	Action   string
	Response string
}

type rule struct {
	intent   string
	action   string
	response string
	keywords []string
}

var rules = []rule{
	{
		intent:   Emergency,
		action:   "call_customer",
		response: "We're sorry to hear that. A technician will call you right away. If you are in danger, please call 911.",
		keywords: []string{"emergency", "urgent", "won't start", "wont start", "broke down", "broken down", "breakdown", "stranded", "tow truck", "towing", "a tow", "accident", "smoke", "overheat", "brakes failed", "no brakes"},
	},
	{
		intent:   Booking,
		action:   "offer_booking",
		response: "We'd be happy to get you scheduled. What day and time work best for you?",
		keywords: []string{"appointment", "book", "schedule", "availability", "available", "come in", "drop off", "drop-off"},
	},
	{
		intent:   Quote,
		action:   "send_quote",
		response: "Thanks for reaching out. Could you share the year, make and model so we can put together an estimate?",
		keywords: []string{"quote", "price", "cost", "how much", "estimate"},
	},
	{
		intent:   Status,
		action:   "check_status",
		response: "Let me check on your vehicle and get right back to you.",
		keywords: []string{"ready", "status", "done yet", "pick up", "pickup", "finished"},
	},
}

// Classify returns the first matching rule, or General.
func Classify(text string) Result {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return Result{Intent: r.intent, Action: r.action, Response: r.response}
			}
		}
	}
	return Result{Intent: General, Action: "none", Response: "Thanks for your message! A team member will get back to you shortly."}
}

// IsEmergency reports whether an intent label names an emergency, ignoring case.
func IsEmergency(label string) bool {
	return strings.Contains(strings.ToLower(label), Emergency)
}
