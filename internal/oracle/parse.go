package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// #region repair
var (
	leadingFence  = regexp.MustCompile("^```(?:\\w+)?\\n?")
	trailingFence = regexp.MustCompile("\\n?```$")
	outputPrefix  = regexp.MustCompile(`(?i)^Output:\s*`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	kvLine        = regexp.MustCompile(`^(\w+):\s*(.+)$`)
)

// ParseJSON turns model text into a JSON object. It tries the text as-is,
// then with code fences, an "Output:" prefix and trailing commas removed,
// then as "Key: value" lines.
func ParseJSON(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		return obj, nil
	}
	if err := json.Unmarshal([]byte(repairJSON(text)), &obj); err == nil && obj != nil {
		return obj, nil
	}
	if kv := keyValueObject(text); len(kv) > 0 {
		return kv, nil
	}
	return nil, formatErrorf("no JSON object in response")
}

func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(leadingFence.ReplaceAllString(s, ""))
	s = strings.TrimSpace(trailingFence.ReplaceAllString(s, ""))
	s = outputPrefix.ReplaceAllString(s, "")
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start != -1 && end > start {
		s = s[start : end+1]
	}
	return trailingComma.ReplaceAllString(s, "$1")
}

func keyValueObject(s string) map[string]any {
	out := map[string]any{}
	for _, line := range strings.Split(s, "\n") {
		m := kvLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		key, value := strings.ToLower(m[1]), strings.TrimSpace(m[2])
		if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
			var nested map[string]any
			if err := json.Unmarshal([]byte(strings.ReplaceAll(value, "'", `"`)), &nested); err == nil {
				out[key] = nested
				continue
			}
		}
		value = strings.TrimSpace(strings.TrimRight(value, ","))
		value = strings.Trim(strings.Trim(value, `"`), "'")
		out[key] = value
	}
	return out
}

// #endregion repair

// #region choice
// RawChoice is a perspective choice before validation.
type RawChoice struct {
	Action      string
	Score       float64
	Thought     string
	Observation map[string]string
}

// ParseChoice extracts a perspective choice from model text.
func ParseChoice(text string) (RawChoice, error) {
	obj, err := ParseJSON(text)
	if err != nil {
		return RawChoice{}, err
	}
	var rc RawChoice
	action, ok := obj["action"]
	if !ok {
		return RawChoice{}, formatErrorf("missing action")
	}
	rc.Action = scalarString(action)
	rc.Thought = scalarString(firstOf(obj, "thoughts", "thought"))

	score, err := toFloat(obj["score"])
	if err != nil {
		return RawChoice{}, formatErrorf("score: %v", err)
	}
	rc.Score = score

	obs, err := toObservationMap(obj["observation"])
	if err != nil {
		return RawChoice{}, err
	}
	rc.Observation = obs
	return rc, nil
}

// #endregion choice

// #region stop
// RawStop is the panorama-level stop check.
type RawStop struct {
	Stop        bool
	Thought     string
	Observation string
}

// ParseStop extracts a stop/continue answer from model text. Action 1 means
// stop, 0 continue.
func ParseStop(text string) (RawStop, error) {
	obj, err := ParseJSON(text)
	if err != nil {
		return RawStop{}, err
	}
	action, ok := obj["action"]
	if !ok {
		return RawStop{}, formatErrorf("missing action")
	}
	v, err := toFloat(action)
	if err != nil {
		return RawStop{}, formatErrorf("stop action: %v", err)
	}
	if v != 0 && v != 1 {
		return RawStop{}, formatErrorf("stop action must be 0 or 1, got %v", v)
	}
	rs := RawStop{
		Stop:    v == 1,
		Thought: scalarString(firstOf(obj, "thoughts", "thought")),
	}
	switch o := obj["observation"].(type) {
	case map[string]any:
		b, _ := json.Marshal(o)
		rs.Observation = string(b)
	default:
		rs.Observation = scalarString(o)
	}
	return rs, nil
}

// #endregion stop

// #region helpers
func firstOf(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// toObservationMap accepts an object, or a string holding one.
func toObservationMap(v any) (map[string]string, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]string, len(x))
		for k, val := range x {
			out[k] = scalarString(val)
		}
		return out, nil
	case string:
		var nested map[string]any
		if err := json.Unmarshal([]byte(x), &nested); err != nil {
			return nil, formatErrorf("observation is not an object")
		}
		return toObservationMap(nested)
	case nil:
		return nil, formatErrorf("missing observation")
	default:
		return nil, formatErrorf("observation has type %T", v)
	}
}

// #endregion helpers
