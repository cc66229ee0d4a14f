// Package storagetest holds the behaviour every storage.Driver must share.
// Backend test suites call DriverSpecs from inside a Describe.
package storagetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
)

// DriverSpecs registers the shared driver specs. newDriver is called once
// per spec and the driver is closed afterwards.
func DriverSpecs(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
		id     session.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
		id = session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	Describe("CreateSession", func() {
		It("stores the initial state", func() {
			s, err := driver.CreateSession(ctx, id, state.State{"step": 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Identity).To(Equal(id))
			Expect(s.State).To(Equal(state.State{"step": float64(1)}))
			Expect(s.CreatedAt).NotTo(BeZero())
		})

		It("rejects a duplicate identity and keeps the original state", func() {
			_, err := driver.CreateSession(ctx, id, state.State{"v": "first"})
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.CreateSession(ctx, id, state.State{"v": "second"})
			Expect(err).To(MatchError(storage.ErrAlreadyExists))

			s, err := driver.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State["v"]).To(Equal("first"))
		})

		It("treats identities differing in any part as distinct", func() {
			for _, other := range []session.Identity{
				{AppName: "other", UserID: "u1", SessionID: "s1"},
				{AppName: "demo", UserID: "u2", SessionID: "s1"},
				{AppName: "demo", UserID: "u1", SessionID: "s2"},
			} {
				_, err := driver.CreateSession(ctx, other, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := driver.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a non-finite initial state", func() {
			_, err := driver.CreateSession(ctx, id, state.State{"x": math.Inf(1)})
			Expect(err).To(MatchError(storage.ErrValidation))

			_, err = driver.GetSession(ctx, id)
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("rejects an incomplete identity", func() {
			_, err := driver.CreateSession(ctx, session.Identity{AppName: "demo"}, nil)
			Expect(err).To(MatchError(storage.ErrValidation))
		})
	})

	Describe("GetSession", func() {
		It("returns NotFound for an unknown session", func() {
			_, err := driver.GetSession(ctx, id)
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(err.Error()).NotTo(ContainSubstring("sessions"))
		})
	})

	Describe("ListSessions", func() {
		It("lists only the user's sessions, oldest first", func() {
			for i := range 3 {
				_, err := driver.CreateSession(ctx, session.Identity{AppName: "demo", UserID: "u1", SessionID: fmt.Sprintf("s%d", i)}, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := driver.CreateSession(ctx, session.Identity{AppName: "demo", UserID: "u2", SessionID: "x"}, nil)
			Expect(err).NotTo(HaveOccurred())

			sessions, err := driver.ListSessions(ctx, "demo", "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(3))
			for i, s := range sessions {
				Expect(s.SessionID).To(Equal(fmt.Sprintf("s%d", i)))
			}
		})

		It("returns an empty list for an unknown user", func() {
			sessions, err := driver.ListSessions(ctx, "demo", "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})

	Describe("AppendEvent", func() {
		BeforeEach(func() {
			_, err := driver.CreateSession(ctx, id, state.State{"step": 1})
			Expect(err).NotTo(HaveOccurred())
		})

		It("folds the delta into the session state", func() {
			_, err := driver.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi"), StateDelta: state.State{"step": 2}})
			Expect(err).NotTo(HaveOccurred())

			s, err := driver.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State).To(Equal(state.State{"step": float64(2)}))
		})

		It("leaves state untouched for events without a delta", func() {
			_, err := driver.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi")})
			Expect(err).NotTo(HaveOccurred())

			s, err := driver.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State).To(Equal(state.State{"step": float64(1)}))
		})

		It("assigns an id when none is given", func() {
			ev, err := driver.AppendEvent(ctx, id, &session.Event{Author: "user"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.ID).NotTo(BeEmpty())
			Expect(ev.Seq).To(BeNumerically(">", 0))
		})

		It("rejects an event without an author", func() {
			_, err := driver.AppendEvent(ctx, id, &session.Event{Content: []byte("x")})
			Expect(err).To(MatchError(storage.ErrValidation))
		})

		It("rejects non-finite numbers in the delta and leaves state untouched", func() {
			for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
				_, err := driver.AppendEvent(ctx, id, &session.Event{Author: "agent", StateDelta: state.State{"x": v}})
				Expect(err).To(MatchError(storage.ErrValidation))
			}

			s, err := driver.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State).To(Equal(state.State{"step": float64(1)}))
			events, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
		})

		It("rejects a duplicate event id", func() {
			_, err := driver.AppendEvent(ctx, id, &session.Event{ID: "e1", Author: "user"})
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.AppendEvent(ctx, id, &session.Event{ID: "e1", Author: "user"})
			Expect(err).To(MatchError(storage.ErrAlreadyExists))
		})

		It("returns NotFound for an unknown session", func() {
			_, err := driver.AppendEvent(ctx, session.Identity{AppName: "demo", UserID: "u1", SessionID: "nope"}, &session.Event{Author: "user"})
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("keeps insertion order when timestamps go backwards", func() {
			base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			_, err := driver.AppendEvent(ctx, id, &session.Event{ID: "late", Author: "user", Timestamp: base})
			Expect(err).NotTo(HaveOccurred())
			ev, err := driver.AppendEvent(ctx, id, &session.Event{ID: "early", Author: "user", Timestamp: base.Add(-time.Hour)})
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.Timestamp).To(BeTemporally(">=", base))

			events, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(eventIDs(events)).To(Equal([]string{"late", "early"}))
		})

		It("round trips every event field", func() {
			ts := time.Date(2025, 3, 4, 5, 6, 7, 8000, time.UTC)
			in := &session.Event{
				ID:           "full",
				InvocationID: "inv-1",
				Author:       "agent",
				Timestamp:    ts,
				Content:      []byte(`{"text":"ok"}`),
				StateDelta:   state.State{"nested": map[string]any{"a": []any{"x", true, nil}}},
				Partial:      true,
				TurnComplete: true,
				Interrupted:  true,
				Error:        &session.EventError{Code: "tool_failed", Message: "boom"},
			}
			_, err := driver.AppendEvent(ctx, id, in)
			Expect(err).NotTo(HaveOccurred())

			out, err := driver.GetEvent(ctx, id, "full")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.InvocationID).To(Equal("inv-1"))
			Expect(out.Author).To(Equal("agent"))
			Expect(out.Timestamp.Equal(ts)).To(BeTrue())
			Expect(out.Content).To(Equal(in.Content))
			Expect(out.StateDelta).To(Equal(in.StateDelta))
			Expect(out.Partial).To(BeTrue())
			Expect(out.TurnComplete).To(BeTrue())
			Expect(out.Interrupted).To(BeTrue())
			Expect(out.Error).To(Equal(&session.EventError{Code: "tool_failed", Message: "boom"}))
		})

		It("folds concurrent deltas in the order the log records them", func() {
			const writers = 8
			var wg sync.WaitGroup
			errs := make(chan error, writers)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					delta := state.State{"last": i, fmt.Sprintf("k%d", i): true}
					_, err := driver.AppendEvent(ctx, id, &session.Event{Author: "agent", StateDelta: delta})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			events, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(writers))

			s, err := driver.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State["last"]).To(Equal(events[writers-1].StateDelta["last"]))
			for i := range writers {
				Expect(s.State).To(HaveKeyWithValue(fmt.Sprintf("k%d", i), true))
			}
		})

		It("fails with a timeout when the context is already done", func() {
			cctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
			defer cancel()
			<-cctx.Done()

			_, err := driver.AppendEvent(cctx, id, &session.Event{Author: "user"})
			Expect(err).To(MatchError(storage.ErrTimeout))
			Expect(err).NotTo(MatchError(storage.ErrNotFound))
		})
	})

	Describe("ApplyDelta", func() {
		It("merges the delta and records a system event", func() {
			_, err := driver.CreateSession(ctx, id, state.State{"a": 1, "b": 1})
			Expect(err).NotTo(HaveOccurred())

			s, err := driver.ApplyDelta(ctx, id, state.State{"b": 2, "c": 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.State).To(Equal(state.State{"a": float64(1), "b": float64(2), "c": float64(3)}))

			events, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].Author).To(Equal(session.AuthorSystem))
			Expect(events[0].StateDelta).To(Equal(state.State{"b": float64(2), "c": float64(3)}))
		})

		It("returns NotFound for an unknown session", func() {
			_, err := driver.ApplyDelta(ctx, id, state.State{"a": 1})
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("ListEvents", func() {
		BeforeEach(func() {
			_, err := driver.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("resumes after sinceID without skipping or repeating", func() {
			total := storage.EventPageSize + 10
			for i := range total {
				_, err := driver.AppendEvent(ctx, id, &session.Event{ID: fmt.Sprintf("e%04d", i), Author: "user"})
				Expect(err).NotTo(HaveOccurred())
			}

			all, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(total))
			for i, ev := range all {
				Expect(ev.ID).To(Equal(fmt.Sprintf("e%04d", i)))
			}

			rest, err := storage.CollectEvents(driver.ListEvents(ctx, id, "e0099"))
			Expect(err).NotTo(HaveOccurred())
			Expect(eventIDs(rest)).To(Equal(eventIDs(all[100:])))

			again, err := storage.CollectEvents(driver.ListEvents(ctx, id, "e0099"))
			Expect(err).NotTo(HaveOccurred())
			Expect(eventIDs(again)).To(Equal(eventIDs(rest)))
		})

		It("stops early when the consumer stops", func() {
			for i := range 5 {
				_, err := driver.AppendEvent(ctx, id, &session.Event{ID: fmt.Sprintf("e%d", i), Author: "user"})
				Expect(err).NotTo(HaveOccurred())
			}
			var seen int
			for ev, err := range driver.ListEvents(ctx, id, "") {
				Expect(err).NotTo(HaveOccurred())
				Expect(ev).NotTo(BeNil())
				seen++
				if seen == 2 {
					break
				}
			}
			Expect(seen).To(Equal(2))
		})

		It("yields nothing after the last event", func() {
			_, err := driver.AppendEvent(ctx, id, &session.Event{ID: "only", Author: "user"})
			Expect(err).NotTo(HaveOccurred())

			rest, err := storage.CollectEvents(driver.ListEvents(ctx, id, "only"))
			Expect(err).NotTo(HaveOccurred())
			Expect(rest).To(BeEmpty())
		})

		It("returns NotFound for an unknown sinceID", func() {
			_, err := storage.CollectEvents(driver.ListEvents(ctx, id, "missing"))
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("DeleteSession", func() {
		It("removes the session and its events", func() {
			_, err := driver.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.AppendEvent(ctx, id, &session.Event{ID: "e1", Author: "user"})
			Expect(err).NotTo(HaveOccurred())

			Expect(driver.DeleteSession(ctx, id)).To(Succeed())

			_, err = driver.GetSession(ctx, id)
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, err = driver.GetEvent(ctx, id, "e1")
			Expect(err).To(MatchError(storage.ErrNotFound))

			_, err = driver.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			events, err := storage.CollectEvents(driver.ListEvents(ctx, id, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(BeEmpty())
		})

		It("returns NotFound for an unknown session", func() {
			Expect(driver.DeleteSession(ctx, id)).To(MatchError(storage.ErrNotFound))
		})
	})

	It("replays the demo conversation", func() {
		_, err := driver.CreateSession(ctx, id, state.State{"step": 1})
		Expect(err).NotTo(HaveOccurred())

		e1, err := driver.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi")})
		Expect(err).NotTo(HaveOccurred())
		_, err = driver.AppendEvent(ctx, id, &session.Event{Author: "agent", Content: []byte("hello"), StateDelta: state.State{"step": 2}})
		Expect(err).NotTo(HaveOccurred())

		s, err := driver.GetSession(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.State).To(Equal(state.State{"step": float64(2)}))

		rest, err := storage.CollectEvents(driver.ListEvents(ctx, id, e1.ID))
		Expect(err).NotTo(HaveOccurred())
		Expect(rest).To(HaveLen(1))
		Expect(rest[0].Author).To(Equal("agent"))
		Expect(string(rest[0].Content)).To(Equal("hello"))
	})
}

func eventIDs(events []*session.Event) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
