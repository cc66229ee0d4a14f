package memory_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
)

var _ = Describe("Rank", func() {
	id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := func(eventID, text string, seq int64) memory.Entry {
		e, err := memory.Derive(id, &session.Event{ID: eventID, Author: "user", Content: []byte(text), Timestamp: base.Add(time.Duration(seq) * time.Second), Seq: seq})
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	It("only returns entries sharing a keyword with the query", func() {
		results := memory.Rank([]memory.Entry{
			entry("e1", "flight to Lisbon", 1),
			entry("e2", "hotel in Porto", 2),
		}, "lisbon", 10)

		Expect(results).To(HaveLen(1))
		Expect(results[0].Ref.EventID).To(Equal("e1"))
		Expect(results[0].Score).To(BeNumerically(">", 0))
	})

	It("ranks entries matching more query terms higher", func() {
		results := memory.Rank([]memory.Entry{
			entry("e1", "flight booked", 1),
			entry("e2", "flight to Lisbon booked", 2),
			entry("e3", "Lisbon weather", 3),
		}, "lisbon flight", 10)

		Expect(results).To(HaveLen(3))
		Expect(results[0].Ref.EventID).To(Equal("e2"))
	})

	It("breaks ties by recency", func() {
		results := memory.Rank([]memory.Entry{
			entry("old", "pizza", 1),
			entry("new", "pizza", 2),
		}, "pizza", 10)

		Expect(results).To(HaveLen(2))
		Expect(results[0].Ref.EventID).To(Equal("new"))
	})

	It("applies the limit", func() {
		var entries []memory.Entry
		for i := range 5 {
			entries = append(entries, entry("e"+string(rune('a'+i)), "pizza", int64(i)))
		}
		Expect(memory.Rank(entries, "pizza", 2)).To(HaveLen(2))
	})

	It("returns nothing for a query without terms", func() {
		Expect(memory.Rank([]memory.Entry{entry("e1", "pizza", 1)}, "the a of", 10)).To(BeEmpty())
	})
})
