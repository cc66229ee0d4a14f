package session_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
)

var _ = Describe("Identity", func() {
	It("requires every part", func() {
		Expect(session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}.Validate()).To(Succeed())
		Expect(session.Identity{UserID: "u1", SessionID: "s1"}.Validate()).To(MatchError(ContainSubstring("app name")))
		Expect(session.Identity{AppName: "demo", SessionID: "s1"}.Validate()).To(MatchError(ContainSubstring("user id")))
		Expect(session.Identity{AppName: "demo", UserID: "u1"}.Validate()).To(MatchError(ContainSubstring("session id")))
	})

	It("renders as a path", func() {
		Expect(session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}.String()).To(Equal("demo/u1/s1"))
	})
})

var _ = Describe("Event", func() {
	It("requires an author", func() {
		Expect((&session.Event{}).Validate()).To(MatchError(ContainSubstring("author")))
		Expect((&session.Event{Author: "user"}).Validate()).To(Succeed())
	})

	It("requires an error code when an error is attached", func() {
		ev := &session.Event{Author: "agent", Error: &session.EventError{Message: "boom"}}
		Expect(ev.Validate()).To(HaveOccurred())
	})

	It("clones without sharing buffers", func() {
		ev := &session.Event{Author: "user", Content: []byte("hi"), StateDelta: state.State{"k": "v"}}
		c := ev.Clone()
		c.Content[0] = 'H'
		c.StateDelta["k"] = "changed"

		Expect(string(ev.Content)).To(Equal("hi"))
		Expect(ev.StateDelta["k"]).To(Equal("v"))
	})
})

var _ = Describe("Coalesce", func() {
	ev := func(content string, partial, complete bool) *session.Event {
		return &session.Event{Author: "agent", Content: []byte(content), Partial: partial, TurnComplete: complete}
	}

	It("groups a partial run with the event that closes it", func() {
		turns := session.Coalesce([]*session.Event{
			ev("question", false, false),
			ev("Hel", true, false),
			ev("lo", true, false),
			ev("!", false, true),
		})

		Expect(turns).To(HaveLen(2))
		Expect(string(turns[0].Content())).To(Equal("question"))
		Expect(turns[1].Events).To(HaveLen(3))
		Expect(string(turns[1].Content())).To(Equal("Hello!"))
		Expect(turns[1].Complete).To(BeTrue())
	})

	It("leaves a trailing partial run incomplete", func() {
		turns := session.Coalesce([]*session.Event{ev("a", true, false), ev("b", true, false)})
		Expect(turns).To(HaveLen(1))
		Expect(turns[0].Complete).To(BeFalse())
	})

	It("closes a run on a partial event marked turn complete", func() {
		turns := session.Coalesce([]*session.Event{ev("a", true, false), ev("b", true, true), ev("c", false, false)})
		Expect(turns).To(HaveLen(2))
		Expect(string(turns[0].Content())).To(Equal("ab"))
	})
})
