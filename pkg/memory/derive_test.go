package memory_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
)

var _ = Describe("Derive", func() {
	id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}

	It("summarizes a text message", func() {
		ev := &session.Event{ID: "e1", Author: "user", Content: []byte("Book a flight to Lisbon")}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(entry.Ref).To(Equal(memory.EventRef{Identity: id, EventID: "e1"}))
		Expect(entry.Classification).To(Equal(memory.ClassMessage))
		Expect(entry.Summary).To(Equal("From user | Type: message | Content: Book a flight to Lisbon"))
		Expect(entry.Keywords).To(Equal([]string{"book", "content", "flight", "lisbon", "message", "user"}))
	})

	It("renders state deltas with sorted keys and tags them", func() {
		ev := &session.Event{ID: "e2", Author: "agent", StateDelta: state.State{"step": float64(2), "city": "Lisbon"}}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(entry.Classification).To(Equal(memory.ClassStateUpdate))
		Expect(entry.Summary).To(Equal(`From agent | Type: state_update | State: city: "Lisbon", step: 2`))
		Expect(entry.Keywords).To(ContainElement(memory.StateUpdateTag))
	})

	It("adds the state_update tag to messages that carry a delta", func() {
		ev := &session.Event{ID: "e3", Author: "agent", Content: []byte("hello"), StateDelta: state.State{"step": float64(2)}}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(entry.Classification).To(Equal(memory.ClassMessage))
		Expect(entry.Keywords).To(ContainElements("hello", memory.StateUpdateTag))
	})

	It("truncates long content to 100 characters", func() {
		ev := &session.Event{ID: "e4", Author: "user", Content: []byte(strings.Repeat("x", 150))}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Summary).To(HaveSuffix("Content: " + strings.Repeat("x", 100) + "..."))
	})

	It("extracts text from structured content", func() {
		ev := &session.Event{ID: "e5", Author: "agent", Content: []byte(`{"parts":[{"text":"first"},{"text":"second"}]}`)}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Summary).To(ContainSubstring("Content: first second"))
	})

	It("names the tools a function call invokes", func() {
		ev := &session.Event{ID: "e9", Author: "agent", Content: []byte(
			`{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Lisbon"}}},{"functionCall":{"name":"book_flight"}}]}`)}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(entry.Classification).To(Equal(memory.ClassFunctionCall))
		Expect(entry.Summary).To(Equal("From agent | Type: function_call | Tools: get_weather, book_flight"))
		Expect(entry.Keywords).To(ContainElements("get_weather", "book_flight", "function_call"))
		Expect(entry.Summary).NotTo(ContainSubstring("Lisbon"))
	})

	It("names the tool a function response answers", func() {
		ev := &session.Event{ID: "e10", Author: "agent", Content: []byte(
			`{"parts":[{"function_response":{"name":"get_weather","response":{"temp":21}}}]}`)}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())

		Expect(entry.Classification).To(Equal(memory.ClassFunctionResponse))
		Expect(entry.Summary).To(Equal("From agent | Type: function_response | Tools: get_weather"))
	})

	It("keeps text that accompanies a function call", func() {
		ev := &session.Event{ID: "e11", Author: "agent", Content: []byte(
			`{"parts":[{"text":"Checking the forecast"},{"functionCall":{"name":"get_weather"}}]}`)}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Summary).To(Equal("From agent | Type: function_call | Content: Checking the forecast | Tools: get_weather"))
	})

	It("records error codes", func() {
		ev := &session.Event{ID: "e6", Author: "agent", Error: &session.EventError{Code: "tool_timeout"}}
		entry, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())
		Expect(entry.Classification).To(Equal(memory.ClassError))
		Expect(entry.Summary).To(HaveSuffix("Error: tool_timeout"))
		Expect(entry.Keywords).To(ContainElement("tool_timeout"))
	})

	It("rejects binary content", func() {
		ev := &session.Event{ID: "e7", Author: "user", Content: []byte{0xff, 0x00, 0x10}}
		_, err := memory.Derive(id, ev)
		Expect(err).To(MatchError(memory.ErrUnindexable))
	})

	It("is deterministic", func() {
		ev := &session.Event{
			ID:         "e8",
			Author:     "agent",
			Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			Content:    []byte("same input"),
			StateDelta: state.State{"b": float64(1), "a": []any{"x"}, "c": map[string]any{"k": true}},
		}
		first, err := memory.Derive(id, ev)
		Expect(err).NotTo(HaveOccurred())
		for range 20 {
			again, err := memory.Derive(id, ev.Clone())
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(first))
		}
	})

	DescribeTable("Classify",
		func(ev *session.Event, want string) {
			Expect(memory.Classify(ev)).To(Equal(want))
		},
		Entry("text", &session.Event{Content: []byte("hi")}, memory.ClassMessage),
		Entry("partial text", &session.Event{Content: []byte("h"), Partial: true}, memory.ClassPartialMessage),
		Entry("delta only", &session.Event{StateDelta: state.State{"k": "v"}}, memory.ClassStateUpdate),
		Entry("error", &session.Event{Content: []byte("x"), Error: &session.EventError{Code: "e"}}, memory.ClassError),
		Entry("empty marker", &session.Event{TurnComplete: true}, memory.ClassControl),
		Entry("function call", &session.Event{Content: []byte(`{"parts":[{"functionCall":{"name":"f"}}]}`)}, memory.ClassFunctionCall),
		Entry("function response", &session.Event{Content: []byte(`{"parts":[{"functionResponse":{"name":"f"}}]}`)}, memory.ClassFunctionResponse),
		Entry("failed function call", &session.Event{Content: []byte(`{"parts":[{"functionCall":{"name":"f"}}]}`), Error: &session.EventError{Code: "e"}}, memory.ClassError),
	)

	Describe("ParseContent", func() {
		It("collapses whitespace in plain text", func() {
			c, err := memory.ParseContent([]byte("  a\n b  "))
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(memory.Content{Text: "a b"}))
		})

		It("lists each tool once, calls first", func() {
			c, err := memory.ParseContent([]byte(`{"parts":[{"functionResponse":{"name":"a"}},{"functionCall":{"name":"b"}},{"functionCall":{"name":"a"}}]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Calls).To(Equal([]string{"b", "a"}))
			Expect(c.Responses).To(Equal([]string{"a"}))
			Expect(c.Tools()).To(Equal([]string{"b", "a"}))
			Expect(c.Text).To(BeEmpty())
		})

		It("treats JSON without known fields as text", func() {
			c, err := memory.ParseContent([]byte(`{"foo": 1}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Text).To(Equal(`{"foo": 1}`))
		})
	})
})

var _ = Describe("Tokenize", func() {
	It("lower-cases, de-duplicates and sorts", func() {
		Expect(memory.Tokenize("Lisbon lisbon FLIGHT")).To(Equal([]string{"flight", "lisbon"}))
	})

	It("drops stop words and single characters", func() {
		Expect(memory.Tokenize("a trip to the city of x")).To(Equal([]string{"city", "trip"}))
	})

	It("keeps underscores and non-ASCII letters", func() {
		Expect(memory.Tokenize("state_update café")).To(Equal([]string{"café", "state_update"}))
	})
})
