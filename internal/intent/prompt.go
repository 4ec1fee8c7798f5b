package intent

import "fmt"

// resolvePrompt instructs the model to classify a CRM request and extract
// its entities as strict JSON.
const resolvePrompt = `You are a CRM assistant that classifies requests and extracts entities.

Classify the request as exactly one intent:
- "create_contact": add a person to the CRM
- "create_deal": record a sales opportunity with a monetary amount
- "create_contact_and_deal": both a new person and a sales opportunity in one request
- "unknown": anything else

Extract entities into a "fields" object using only these keys when present:
"name", "email", "company", "phone", "amount", "close_date".
Keep values exactly as the request wrote them and use strings for every value.
Omit keys the request does not mention. For "unknown", return an empty fields object.

Respond with a JSON object of this shape:
{"intent": "create_contact", "fields": {"name": "John Doe", "email": "john@example.com"}}

Respond ONLY with the JSON object, no additional text.`

// buildPrompt pairs the instructions with one user request.
func buildPrompt(text string) string {
	return fmt.Sprintf("%s\n\nRequest: %s", resolvePrompt, text)
}
