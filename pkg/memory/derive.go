package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/utils"
)

// Classifications assigned by Classify.
const (
	ClassMessage          = "message"
	ClassPartialMessage   = "partial_message"
	ClassFunctionCall     = "function_call"
	ClassFunctionResponse = "function_response"
	ClassStateUpdate      = "state_update"
	ClassError            = "error"
	ClassControl          = "control"
)

// StateUpdateTag is added to the keywords of every event carrying a delta.
const StateUpdateTag = "state_update"

const (
	maxContentRunes = 100
	maxValueRunes   = 40
)

// Classify names the kind of an event. Undecodable content classifies by
// the event's other fields.
func Classify(ev *session.Event) string {
	c, _ := ParseContent(ev.Content)
	return classify(ev, c)
}

func classify(ev *session.Event, c Content) string {
	switch {
	case ev.Error != nil:
		return ClassError
	case len(c.Calls) > 0:
		return ClassFunctionCall
	case len(c.Responses) > 0:
		return ClassFunctionResponse
	case len(ev.Content) == 0 && !ev.StateDelta.Empty():
		return ClassStateUpdate
	case len(ev.Content) == 0:
		return ClassControl
	case ev.Partial:
		return ClassPartialMessage
	default:
		return ClassMessage
	}
}

// Derive builds the entry for ev. It is pure: the same event always yields
// the same entry. Content that is not valid UTF-8 text fails with
// ErrUnindexable.
func Derive(id session.Identity, ev *session.Event) (Entry, error) {
	c, err := ParseContent(ev.Content)
	if err != nil {
		return Entry{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}

	class := classify(ev, c)
	parts := []string{"From " + ev.Author, "Type: " + class}
	if c.Text != "" {
		parts = append(parts, "Content: "+utils.Truncate(c.Text, maxContentRunes))
	}
	if tools := c.Tools(); len(tools) > 0 {
		parts = append(parts, "Tools: "+strings.Join(tools, ", "))
	}
	if !ev.StateDelta.Empty() {
		parts = append(parts, "State: "+renderDelta(ev))
	}
	if ev.Error != nil {
		parts = append(parts, "Error: "+ev.Error.Code)
	}
	summary := strings.Join(parts, " | ")

	keywords := Tokenize(summary)
	if !ev.StateDelta.Empty() && !slices.Contains(keywords, StateUpdateTag) {
		keywords = append(keywords, StateUpdateTag)
		slices.Sort(keywords)
	}

	return Entry{
		Ref:            EventRef{Identity: id, EventID: ev.ID},
		Classification: class,
		Summary:        summary,
		Keywords:       keywords,
		EventTimestamp: ev.Timestamp,
		EventSeq:       ev.Seq,
	}, nil
}

// Content is what indexing reads from an event's content.
type Content struct {
	Text string

	// Calls and Responses name the functions the content calls or
	// answers, in order of appearance.
	Calls     []string
	Responses []string
}

// Tools returns the distinct function names of Calls then Responses.
func (c Content) Tools() []string {
	var out []string
	for _, name := range slices.Concat(c.Calls, c.Responses) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

type contentPart struct {
	Text            string        `json:"text"`
	FunctionCall    *functionName `json:"functionCall"`
	FunctionCallAlt *functionName `json:"function_call"`
	FunctionResp    *functionName `json:"functionResponse"`
	FunctionRespAlt *functionName `json:"function_response"`
}

type functionName struct {
	Name string `json:"name"`
}

// ParseContent reads an event's content. Plain text is returned with
// whitespace collapsed. A JSON object with a "text" field or a "parts"
// list yields the joined text of its text parts and the names of its
// functionCall and functionResponse parts. Other JSON is treated as text.
func ParseContent(content []byte) (Content, error) {
	if len(content) == 0 {
		return Content{}, nil
	}
	if !utf8.Valid(content) || bytes.IndexByte(content, 0) >= 0 {
		return Content{}, ErrUnindexable
	}

	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			Text  string        `json:"text"`
			Parts []contentPart `json:"parts"`
		}
		if err := json.Unmarshal(trimmed, &doc); err == nil {
			var c Content
			texts := make([]string, 0, len(doc.Parts)+1)
			if doc.Text != "" {
				texts = append(texts, doc.Text)
			}
			for _, p := range doc.Parts {
				if p.Text != "" {
					texts = append(texts, p.Text)
				}
				if name := firstName(p.FunctionCall, p.FunctionCallAlt); name != "" {
					c.Calls = append(c.Calls, name)
				}
				if name := firstName(p.FunctionResp, p.FunctionRespAlt); name != "" {
					c.Responses = append(c.Responses, name)
				}
			}
			if len(texts) > 0 || len(c.Calls) > 0 || len(c.Responses) > 0 {
				c.Text = strings.Join(strings.Fields(strings.Join(texts, " ")), " ")
				return c, nil
			}
		}
	}
	return Content{Text: strings.Join(strings.Fields(string(content)), " ")}, nil
}

func firstName(fns ...*functionName) string {
	for _, fn := range fns {
		if fn != nil && fn.Name != "" {
			return fn.Name
		}
	}
	return ""
}

func renderDelta(ev *session.Event) string {
	keys := ev.StateDelta.Keys()
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		b, err := json.Marshal(ev.StateDelta[k])
		if err != nil {
			b = []byte("?")
		}
		pairs = append(pairs, k+": "+utils.Truncate(string(b), maxValueRunes))
	}
	return strings.Join(pairs, ", ")
}
