package base

import "strings"

// registrationMethodPrefix is stripped from a dynamically registered method to
// obtain the key it occupies in the server capabilities object.
const registrationMethodPrefix = "textDocument/"

const providerSuffix = "Provider"

// ServerCapabilities maps a capability provider name (for example
// "completionProvider") to either true or a JSON options object.
//
// Values are treated as immutable once published; mutate a Clone.
type ServerCapabilities map[string]interface{}

// Clone returns a deep copy. Values are copied through a JSON round trip, the
// same representation they arrived in.
func (sc ServerCapabilities) Clone() ServerCapabilities {
	clone := make(ServerCapabilities, len(sc))
	for k, v := range sc {
		clone[k] = DeepCopyJSON(v)
	}
	return clone
}

// Has reports whether the provider is present and not explicitly disabled.
func (sc ServerCapabilities) Has(provider string) bool {
	v, ok := sc[provider]
	if !ok || v == nil {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return true
}

// Options returns the options object for a provider, or nil when the provider
// is absent or registered as a plain boolean.
func (sc ServerCapabilities) Options(provider string) map[string]interface{} {
	opts, _ := sc[provider].(map[string]interface{})
	return opts
}

// CompletionTriggerCharacters returns completionProvider.triggerCharacters.
func (sc ServerCapabilities) CompletionTriggerCharacters() []string {
	raw, _ := sc.Options("completionProvider")["triggerCharacters"].([]interface{})
	chars := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			chars = append(chars, s)
		}
	}
	return chars
}

// CapabilityProviderName derives the capabilities key for a registration
// method: "textDocument/completion" -> "completionProvider". Methods outside
// the textDocument namespace have no such key.
func CapabilityProviderName(method string) (string, bool) {
	if !strings.HasPrefix(method, registrationMethodPrefix) {
		return "", false
	}
	feature := method[len(registrationMethodPrefix):]
	if feature == "" {
		return "", false
	}
	return feature + providerSuffix, true
}

// DeepCopyJSON copies a value decoded from JSON into interface{}: nested
// objects and arrays are copied, scalars are shared.
func DeepCopyJSON(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(value))
		for k, item := range value {
			out[k] = DeepCopyJSON(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			out[i] = DeepCopyJSON(item)
		}
		return out
	default:
		return v
	}
}
