// Package memorytest holds the behaviour every memory.Indexer must share.
package memorytest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Setup returns an event log and an indexer reading from it, plus a
// cleanup func.
type Setup func() (storage.Driver, memory.Indexer, func())

// IndexerSpecs registers the shared indexer specs.
func IndexerSpecs(setup Setup) {
	var (
		ctx     context.Context
		events  storage.Driver
		indexer memory.Indexer
		cleanup func()
		id      session.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		events, indexer, cleanup = setup()
		id = session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
		_, err := events.CreateSession(ctx, id, state.State{"step": 1})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		cleanup()
	})

	appendText := func(sid session.Identity, eventID, author, text string) {
		_, err := events.AppendEvent(ctx, sid, &session.Event{ID: eventID, Author: author, Content: []byte(text)})
		Expect(err).NotTo(HaveOccurred())
	}

	It("indexes each event once", func() {
		appendText(id, "e1", "user", "hi")
		appendText(id, "e2", "agent", "hello there")

		report, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Indexed).To(Equal(2))

		report, err = indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Indexed).To(Equal(0))
		Expect(report.Existing).To(Equal(2))

		appendText(id, "e3", "user", "thanks")
		report, err = indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Indexed).To(Equal(1))
	})

	It("finds entries by keyword, scoped to the user", func() {
		appendText(id, "e1", "user", "I want to fly to Lisbon")
		appendText(id, "e2", "agent", "Booked a hotel in Porto")

		other := session.Identity{AppName: "demo", UserID: "u2", SessionID: "s9"}
		_, err := events.CreateSession(ctx, other, nil)
		Expect(err).NotTo(HaveOccurred())
		appendText(other, "x1", "user", "Lisbon is lovely")

		for _, sid := range []session.Identity{id, other} {
			_, err := indexer.IndexSession(ctx, sid)
			Expect(err).NotTo(HaveOccurred())
		}

		results, err := indexer.Search(ctx, "demo", "u1", "lisbon", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Ref.EventID).To(Equal("e1"))
		Expect(results[0].Ref.Identity).To(Equal(id))
		Expect(results[0].Summary).To(ContainSubstring("Lisbon"))

		source, err := events.GetEvent(ctx, results[0].Ref.Identity, results[0].Ref.EventID)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(source.Content)).To(Equal("I want to fly to Lisbon"))
	})

	It("returns nothing when no keyword matches", func() {
		appendText(id, "e1", "user", "hello")
		_, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		results, err := indexer.Search(ctx, "demo", "u1", "zanzibar", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("finds state updates by tag", func() {
		_, err := events.ApplyDelta(ctx, id, state.State{"destination": "Lisbon"})
		Expect(err).NotTo(HaveOccurred())
		_, err = indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		results, err := indexer.Search(ctx, "demo", "u1", "state_update", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Classification).To(Equal(memory.ClassStateUpdate))
	})

	It("finds tool calls by tool name", func() {
		appendText(id, "e1", "user", "What is the weather in Lisbon")
		appendText(id, "e2", "agent", `{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Lisbon"}}}]}`)
		appendText(id, "e3", "tool", `{"parts":[{"functionResponse":{"name":"get_weather","response":{"temp":21}}}]}`)
		_, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		results, err := indexer.Search(ctx, "demo", "u1", "get_weather", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		classes := []string{results[0].Classification, results[1].Classification}
		Expect(classes).To(ConsistOf(memory.ClassFunctionCall, memory.ClassFunctionResponse))
	})

	It("skips binary events and keeps going", func() {
		_, err := events.AppendEvent(ctx, id, &session.Event{ID: "bin", Author: "tool", Content: []byte{0x00, 0xfe}})
		Expect(err).NotTo(HaveOccurred())
		appendText(id, "e2", "user", "after the blob")

		report, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Skipped).To(Equal(1))
		Expect(report.Indexed).To(Equal(1))
	})

	It("derives identical entries on re-index", func() {
		appendText(id, "e1", "user", "deterministic summaries please")
		_, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		first, err := indexer.Search(ctx, "demo", "u1", "deterministic", 10)
		Expect(err).NotTo(HaveOccurred())

		Expect(indexer.DeleteSession(ctx, id)).To(Succeed())
		_, err = indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		second, err := indexer.Search(ctx, "demo", "u1", "deterministic", 10)
		Expect(err).NotTo(HaveOccurred())

		Expect(second).To(HaveLen(1))
		Expect(second[0].Summary).To(Equal(first[0].Summary))
		Expect(second[0].Keywords).To(Equal(first[0].Keywords))
	})

	It("drops a session's entries on delete", func() {
		appendText(id, "e1", "user", "forget me")
		_, err := indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		Expect(indexer.DeleteSession(ctx, id)).To(Succeed())
		results, err := indexer.Search(ctx, "demo", "u1", "forget", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})

	It("returns NotFound for an unknown session", func() {
		_, err := indexer.IndexSession(ctx, session.Identity{AppName: "demo", UserID: "u1", SessionID: "nope"})
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("finds the demo greeting", func() {
		appendText(id, "e1", "user", "hi")
		_, err := events.AppendEvent(ctx, id, &session.Event{ID: "e2", Author: "agent", Content: []byte("hello"), StateDelta: state.State{"step": 2}})
		Expect(err).NotTo(HaveOccurred())
		_, err = indexer.IndexSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())

		results, err := indexer.Search(ctx, "demo", "u1", "hello", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Ref.EventID).To(Equal("e2"))
		Expect(results[0].Summary).To(ContainSubstring("From agent"))
	})
}
