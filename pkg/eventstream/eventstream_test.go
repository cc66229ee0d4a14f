package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/eventstream"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
)

var _ = Describe("EventAppended", func() {
	id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
	now := time.Unix(1735689600, 0)

	It("summarizes the committed event", func() {
		ev := &session.Event{
			ID:           "e1",
			InvocationID: "inv-1",
			Author:       "agent",
			Timestamp:    now.Add(-time.Second).UTC(),
			Content:      []byte("hello!"),
			StateDelta:   state.State{"turns": 1.0, "topic": "greeting"},
			TurnComplete: true,
			Error:        &session.EventError{Code: "rate_limited"},
			Seq:          42,
		}

		n := eventstream.NewEventAppended(id, ev, now)
		Expect(n.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(n.EventType).To(Equal("spool.event.appended"))
		Expect(n.NotificationID).NotTo(BeEmpty())
		Expect(n.EmittedAt).To(Equal(now.UTC()))
		Expect(n.Session).To(Equal(id))
		Expect(n.Event.ID).To(Equal("e1"))
		Expect(n.Event.Seq).To(Equal(int64(42)))
		Expect(n.Event.ContentSize).To(Equal(6))
		Expect(n.Event.StateKeys).To(Equal([]string{"topic", "turns"}))
		Expect(n.Event.TurnComplete).To(BeTrue())
		Expect(n.Event.ErrorCode).To(Equal("rate_limited"))
		Expect(n.PartitionKey()).To(Equal("demo/u1/s1"))
	})

	It("marshals with stable top-level keys", func() {
		n := eventstream.NewEventAppended(id, &session.Event{ID: "e1", Author: "user"}, now)
		payload, err := json.Marshal(n)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		for _, key := range []string{"schema_version", "event_type", "notification_id", "emitted_at", "session", "event"} {
			Expect(got).To(HaveKey(key))
		}
		Expect(got["event"]).NotTo(HaveKey("state_keys"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).To(MatchError("nil event notification"))
	})
})
