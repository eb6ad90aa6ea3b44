package gateway

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// maxErrorBodyBytes bounds the raw-body fallback in error messages.
const maxErrorBodyBytes = 512

// ExtractActionCode probes a decoded rule for its action code, trying nested
// action.do, flat do, then flat action, each as a number or {value} wrapper.
// Returns nil when no shape matches; callers must treat nil distinctly from
// any real action code.
func ExtractActionCode(rule map[string]any) *int {
	if rule == nil {
		return nil
	}
	if action := mapFromAny(rule["action"]); action != nil {
		if n := intFromAny(action["do"]); n != nil {
			return n
		}
	}
	if n := intOrWrapped(rule["do"]); n != nil {
		return n
	}
	if n := intOrWrapped(rule["action"]); n != nil {
		return n
	}
	return nil
}

// RulesFromPayload normalizes the inconsistent query response envelopes into
// a flat list of decoded rules. Shapes are tried in priority order: a rules
// list nested under a "body" envelope, the whole payload as a list, a
// top-level "rules" field, "body" itself as a list, and finally a mapping of
// store key to rule whose values are scanned.
func RulesFromPayload(payload any) []map[string]any {
	if top := mapFromAny(payload); top != nil {
		if body := mapFromAny(top["body"]); body != nil {
			if list := listOfMaps(body["rules"]); list != nil {
				return list
			}
		}
		if list := listOfMaps(top["rules"]); list != nil {
			return list
		}
		if list := listOfMaps(top["body"]); list != nil {
			return list
		}
		return rulesFromKeyMap(top)
	}
	if list := listOfMaps(payload); list != nil {
		return list
	}
	return nil
}

// rulesFromKeyMap treats a payload as a mapping of store key to rule and
// scans the values, filling the store key from the map key when the rule
// itself carries none.
func rulesFromKeyMap(payload map[string]any) []map[string]any {
	var out []map[string]any
	for key, value := range payload {
		rule := mapFromAny(value)
		if rule == nil {
			continue
		}
		if normalizeString(rule["PK"]) == "" && normalizeString(rule["pk"]) == "" {
			copied := make(map[string]any, len(rule)+1)
			for k, v := range rule {
				copied[k] = v
			}
			copied["PK"] = key
			rule = copied
		}
		out = append(out, rule)
	}
	return out
}

// RuleFromMap builds the normalized Rule view from a decoded rule payload.
func RuleFromMap(rule map[string]any) *Rule {
	if rule == nil {
		return nil
	}
	out := &Rule{
		Hostname: normalizeString(rule["hostname"]),
		Action:   ExtractActionCode(rule),
		Via:      normalizeString(rule["via"]),
	}
	if list, ok := rule["hostnames"].([]any); ok {
		for _, entry := range list {
			if hostname := normalizeString(entry); hostname != "" {
				out.Hostnames = append(out.Hostnames, hostname)
			}
		}
	}
	if out.Via == "" {
		if action := mapFromAny(rule["action"]); action != nil {
			out.Via = normalizeString(action["via"])
		}
	}
	out.Key = normalizeString(rule["PK"])
	if out.Key == "" {
		out.Key = normalizeString(rule["pk"])
	}
	if out.Key == "" {
		out.Key = normalizeString(rule["id"])
	}
	return out
}

// ProxiesFromPayload normalizes the variable /proxies response shapes into a
// flat list. Shapes tried in order: body.proxies, body as a list, the first
// list-valued field of body, the whole payload as a list, then data.
func ProxiesFromPayload(payload any) []any {
	if top := mapFromAny(payload); top != nil {
		if body := mapFromAny(top["body"]); body != nil {
			if list, ok := body["proxies"].([]any); ok {
				return list
			}
			for _, value := range body {
				if list, ok := value.([]any); ok {
					return list
				}
			}
		}
		if list, ok := top["body"].([]any); ok {
			return list
		}
		if list, ok := top["data"].([]any); ok {
			return list
		}
		return nil
	}
	if list, ok := payload.([]any); ok {
		return list
	}
	return nil
}

// errorMessageFromBody extracts a human-readable message from whichever
// error shape is present: bare string, {message,code}, {detail}, then the
// raw body truncated to a bounded length.
func errorMessageFromBody(body []byte, statusCode int) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "status " + strconv.Itoa(statusCode)
	}

	var decoded any
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &decoded); errUnmarshal == nil {
		if message := normalizeString(decoded); message != "" {
			return truncateMessage(message)
		}
		if shape := mapFromAny(decoded); shape != nil {
			if message := normalizeString(shape["message"]); message != "" {
				if code := normalizeString(shape["code"]); code != "" {
					return truncateMessage(message + " (code=" + code + ")")
				}
				return truncateMessage(message)
			}
			if detail := normalizeString(shape["detail"]); detail != "" {
				return truncateMessage(detail)
			}
			if errShape := mapFromAny(shape["error"]); errShape != nil {
				if message := normalizeString(errShape["message"]); message != "" {
					return truncateMessage(message)
				}
			}
			if message := normalizeString(shape["error"]); message != "" {
				return truncateMessage(message)
			}
		}
	}
	return truncateMessage(trimmed)
}

// truncateMessage bounds a message to maxErrorBodyBytes.
func truncateMessage(message string) string {
	if len(message) > maxErrorBodyBytes {
		return message[:maxErrorBodyBytes] + "...(truncated)"
	}
	return message
}

// successFlagFalse reports whether a decoded 2xx body carries an explicit
// application-level failure flag.
func successFlagFalse(payload any) bool {
	shape := mapFromAny(payload)
	if shape == nil {
		return false
	}
	flag, ok := shape["success"].(bool)
	return ok && !flag
}

func intOrWrapped(value any) *int {
	if n := intFromAny(value); n != nil {
		return n
	}
	if wrapper := mapFromAny(value); wrapper != nil {
		return intFromAny(wrapper["value"])
	}
	return nil
}

func intFromAny(value any) *int {
	switch typed := value.(type) {
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return nil
		}
		n := int(typed)
		return &n
	case int:
		n := typed
		return &n
	case int64:
		n := int(typed)
		return &n
	case json.Number:
		parsed, errParse := typed.Int64()
		if errParse != nil {
			return nil
		}
		n := int(parsed)
		return &n
	case string:
		parsed, errParse := strconv.Atoi(strings.TrimSpace(typed))
		if errParse != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

func normalizeString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return ""
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}

func mapFromAny(value any) map[string]any {
	if typed, ok := value.(map[string]any); ok {
		return typed
	}
	return nil
}

func listOfMaps(value any) []map[string]any {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if rule := mapFromAny(entry); rule != nil {
			out = append(out, rule)
		}
	}
	return out
}
