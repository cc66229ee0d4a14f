package inmemory_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	"github.com/papercomputeco/spool/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DriverSpecs(func() storage.Driver {
		return inmemory.NewDriver()
	})

	It("uses the configured clock for default timestamps", func() {
		fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		d := inmemory.NewDriver(inmemory.WithClock(func() time.Time { return fixed }))
		id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}

		s, err := d.CreateSession(context.Background(), id, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.CreatedAt).To(Equal(fixed))

		ev, err := d.AppendEvent(context.Background(), id, &session.Event{Author: "user"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ev.Timestamp).To(Equal(fixed))
	})

	It("serializes concurrent appends to one session", func() {
		d := inmemory.NewDriver()
		ctx := context.Background()
		id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
		_, err := d.CreateSession(ctx, id, state.State{"n": 0})
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := d.AppendEvent(ctx, id, &session.Event{Author: "user"})
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		events, err := storage.CollectEvents(d.ListEvents(ctx, id, ""))
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(20))
		for i := 1; i < len(events); i++ {
			Expect(events[i].Seq).To(BeNumerically(">", events[i-1].Seq))
		}
	})
})
