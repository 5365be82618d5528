package audit

import "strings"

// RedactedMarker replaces sensitive parameter values.
const RedactedMarker = "[REDACTED]"

// Sensitivity is the redaction class a caller assigns to a parameter.
type Sensitivity uint8

// Redaction classes.
const (
	Public Sensitivity = iota
	Secret
)

// Param is one tagged request parameter.
type Param struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Sensitivity Sensitivity `json:"-"`
}

// P builds a public parameter.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// SecretP builds a parameter that is always redacted.
func SecretP(key, value string) Param {
	return Param{Key: key, Value: value, Sensitivity: Secret}
}

// deniedKeys is redacted regardless of the caller's classification.
var deniedKeys = map[string]struct{}{
	"password":         {},
	"new_password":     {},
	"old_password":     {},
	"confirm_password": {},
	"passwd":           {},
	"secret":           {},
	"client_secret":    {},
	"token":            {},
	"access_token":     {},
	"refresh_token":    {},
	"api_key":          {},
	"authorization":    {},
	"card_number":      {},
	"cvv":              {},
	"pin":              {},
}

// IsDeniedKey reports whether key is on the fixed denylist.
func IsDeniedKey(key string) bool {
	_, ok := deniedKeys[strings.ToLower(key)]
	return ok
}

// Redact returns a copy of params with secret and denylisted values replaced.
// Other values are left byte-identical.
func Redact(params []Param) []Param {
	if params == nil {
		return []Param{}
	}
	out := make([]Param, len(params))
	for i, p := range params {
		if p.Sensitivity == Secret || IsDeniedKey(p.Key) {
			p.Value = RedactedMarker
		}
		p.Sensitivity = Public
		out[i] = p
	}
	return out
}

// cleanText replaces NUL bytes and invalid UTF-8 with U+FFFD. PostgreSQL
// refuses both in text and jsonb columns.
func cleanText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "\uFFFD")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// Sanitize makes every text field of e storable. Params are cleaned in place.
func Sanitize(e Entry) Entry {
	e.ActorName = cleanText(e.ActorName)
	e.Module = cleanText(e.Module)
	e.Action = cleanText(e.Action)
	e.Description = cleanText(e.Description)
	e.SourceIP = cleanText(e.SourceIP)
	e.RequestMethod = cleanText(e.RequestMethod)
	e.RequestTarget = cleanText(e.RequestTarget)
	e.RequestID = cleanText(e.RequestID)
	e.ErrorMessage = cleanText(e.ErrorMessage)
	for i := range e.Params {
		e.Params[i].Key = cleanText(e.Params[i].Key)
		e.Params[i].Value = cleanText(e.Params[i].Value)
	}
	return e
}
