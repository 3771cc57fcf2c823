package intelligence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DecodeError reports a model response that holds no JSON object at all.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding intelligence response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errNoObject = errors.New("no JSON object in response")

// Decode parses a model response into Intelligence. The response may be
// wrapped in prose or markdown fences and may use snake_case keys. Fields
// that are missing or of the wrong type take their Default values; only a
// response with no decodable object returns an error, together with
// Default().
func Decode(raw string) (Intelligence, error) {
	fields, err := objectFields(raw)
	if err != nil {
		return Default(), &DecodeError{Raw: raw, Err: err}
	}

	out := Default()
	if v, ok := fields["summary"]; ok {
		out.Summary = text(v)
	}
	if v, ok := fields["intent"]; ok {
		out.Intent = ParseIntent(text(v))
	}
	if v, ok := fields["urgency"]; ok {
		out.Urgency = urgency(v)
	}
	if v, ok := fields["entities"]; ok {
		out.Entities = entities(v)
	}
	if v, ok := fields["suggestedActions"]; ok {
		out.SuggestedActions = suggestedActions(v)
	}
	if v, ok := fields["projectSignals"]; ok {
		out.ProjectSignals = projectSignals(v)
	}
	return out, nil
}

// DecodeReply parses a reply-generation response. A response that is not
// JSON but carries text is used verbatim for both candidates with low
// confidence.
func DecodeReply(raw string) (Reply, error) {
	fields, err := objectFields(raw)
	if err != nil {
		body := strings.TrimSpace(stripFences(raw))
		if body == "" {
			return Reply{}, &DecodeError{Raw: raw, Err: err}
		}
		return Reply{Short: body, Detailed: body, Confidence: fallbackConfidence}, nil
	}

	r := Reply{Short: text(fields["short"]), Detailed: text(fields["detailed"])}
	if r.Short == "" {
		r.Short = text(fields["shortReply"])
	}
	if r.Detailed == "" {
		r.Detailed = text(fields["detailedReply"])
	}
	switch {
	case r.Short == "" && r.Detailed == "":
		return Reply{}, &DecodeError{Raw: raw, Err: errors.New("reply has no text")}
	case r.Short == "":
		r.Short = r.Detailed
	case r.Detailed == "":
		r.Detailed = r.Short
	}

	r.Confidence = fallbackConfidence
	if v, ok := fields["confidence"]; ok {
		if f, ok := number(v); ok {
			r.Confidence = clamp01(f)
		}
	}
	return r, nil
}

const fallbackConfidence = 0.3

// objectFields locates the outermost JSON object in raw and returns its
// fields keyed by camelCase name.
func objectFields(raw string) (map[string]json.RawMessage, error) {
	s := stripFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, errNoObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s[start:end+1]), &fields); err != nil {
		return nil, err
	}
	return normalizeKeys(fields), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// normalizeKeys rewrites snake_case keys to camelCase. When both spellings
// are present the camelCase one wins.
func normalizeKeys(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		ck := camelCase(k)
		if _, exists := out[ck]; exists && ck != k {
			continue
		}
		out[ck] = v
	}
	return out
}

func camelCase(k string) string {
	if !strings.Contains(k, "_") {
		return k
	}
	parts := strings.Split(strings.ToLower(k), "_")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteString(strings.ToUpper(p[:1]) + p[1:])
			continue
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// text reads a string, or renders a number, and trims it. null and other
// types read as empty.
func text(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

func number(v json.RawMessage) (float64, bool) {
	if len(v) == 0 || string(v) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, !math.IsNaN(f)
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

var urgencyLabels = map[string]float64{
	"critical": 1.0,
	"urgent":   0.9,
	"high":     0.9,
	"medium":   0.5,
	"normal":   0.5,
	"low":      0.2,
	"none":     0.0,
}

func urgency(v json.RawMessage) float64 {
	if f, ok := number(v); ok {
		return clamp01(f)
	}
	if u, ok := urgencyLabels[normalizeLabel(text(v))]; ok {
		return u
	}
	return DefaultUrgency
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func stringList(v json.RawMessage) []string {
	out := []string{}
	var list []json.RawMessage
	if err := json.Unmarshal(v, &list); err != nil {
		if s := text(v); s != "" {
			out = append(out, s)
		}
		return out
	}
	for _, item := range list {
		if s := text(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func entities(v json.RawMessage) Entities {
	e := Entities{Deliverables: []string{}, Dates: []string{}}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(v, &fields); err != nil {
		return e
	}
	fields = normalizeKeys(fields)
	e.Budget = text(fields["budget"])
	e.Timeline = text(fields["timeline"])
	e.PaymentTerms = text(fields["paymentTerms"])
	if d, ok := fields["deliverables"]; ok {
		e.Deliverables = stringList(d)
	}
	if d, ok := fields["dates"]; ok {
		e.Dates = stringList(d)
	}
	return e
}

// suggestedActions keeps known actions in the model's order, dropping
// unknown labels and repeats.
func suggestedActions(v json.RawMessage) []Action {
	out := []Action{}
	seen := make(map[Action]bool)
	for _, label := range stringList(v) {
		a, ok := ParseAction(label)
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func projectSignals(v json.RawMessage) ProjectSignals {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(v, &fields); err != nil {
		return ProjectSignals{}
	}
	fields = normalizeKeys(fields)

	var ps ProjectSignals
	if b, ok := fields["isNewProject"]; ok {
		var flag bool
		if err := json.Unmarshal(b, &flag); err == nil {
			ps.IsNewProject = flag
		} else {
			ps.IsNewProject = strings.EqualFold(text(b), "true")
		}
	}
	ps.StageChangeDetected = text(fields["stageChangeDetected"])
	return ps
}
