package jsonutil

import "github.com/tidwall/gjson"

// ActionEnvelope detects and parses a free-form {"action":…,"parameters":…}
// shape, returning the
// parameters object merged with an "action" key so downstream normalization
// can fold it into concrete schema keys.
func ActionEnvelope(raw string) (map[string]interface{}, bool) {
	if !gjson.Valid(raw) {
		repaired, ok := Repair(raw)
		if !ok {
			return nil, false
		}
		raw = repaired
	}

	root := gjson.Parse(raw)
	action := root.Get("action")
	params := root.Get("parameters")
	if !action.Exists() {
		return nil, false
	}

	out := map[string]interface{}{"action": action.String()}
	if params.Exists() && params.IsObject() {
		params.ForEach(func(key, value gjson.Result) bool {
			out[key.String()] = value.Value()
			return true
		})
	}
	return out, true
}
