// Package artifacttest holds the behaviour every artifact.Store must share.
package artifacttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/artifact/blob"
	"github.com/papercomputeco/spool/pkg/artifact/blob/mem"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

// Threshold is the inline threshold the shared specs configure.
const Threshold = 32

// Config is what a Factory must honour.
type Config struct {
	artifact.Options
	Bucket blob.Bucket
	Clock  func() time.Time
}

// Factory builds the store under test.
type Factory func(config Config) artifact.Store

// Clock is a settable test clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current test time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingBucket rejects every Put.
type failingBucket struct {
	blob.Bucket
}

func (failingBucket) Put(context.Context, string, []byte) error {
	return errors.New("disk full")
}

// StoreSpecs registers the shared artifact store specs.
func StoreSpecs(factory Factory) {
	var (
		ctx    context.Context
		clock  *Clock
		bucket *mem.Bucket
		store  artifact.Store
		id     session.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = NewClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		bucket = mem.New(clock.Now)
		store = factory(Config{
			Options: artifact.Options{InlineThreshold: Threshold, Codec: artifact.CodecZstd},
			Bucket:  bucket,
			Clock:   clock.Now,
		})
		id = session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
	})

	Describe("Save and Load", func() {
		It("numbers versions from 1 and loads the latest by default", func() {
			for i := 1; i <= 5; i++ {
				v, err := store.Save(ctx, id, "notes.txt", []byte(fmt.Sprintf("draft %d", i)))
				Expect(err).NotTo(HaveOccurred())
				Expect(v).To(Equal(i))
			}

			data, err := store.Load(ctx, id, "notes.txt", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("draft 5"))

			data, err = store.Load(ctx, id, "notes.txt", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("draft 2"))

			versions, err := store.Versions(ctx, id, "notes.txt")
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(Equal([]int{1, 2, 3, 4, 5}))
		})

		It("versions names independently", func() {
			v, err := store.Save(ctx, id, "a", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1))
			v, err = store.Save(ctx, id, "b", []byte("y"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1))
		})

		It("stores a payload at the threshold inline and one byte over externally", func() {
			at := bytes.Repeat([]byte("a"), Threshold)
			over := bytes.Repeat([]byte("b"), Threshold+1)

			_, err := store.Save(ctx, id, "at", at)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Save(ctx, id, "over", over)
			Expect(err).NotTo(HaveOccurred())

			meta, err := store.Stat(ctx, id, "at", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Location).To(Equal(artifact.LocationInline))
			Expect(meta.Key).To(BeEmpty())

			meta, err = store.Stat(ctx, id, "over", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Location).To(Equal(artifact.LocationExternal))
			Expect(meta.Key).NotTo(BeEmpty())
			Expect(meta.Codec).To(Equal(artifact.CodecZstd))
			Expect(meta.Size).To(Equal(int64(Threshold + 1)))
			Expect(bucket.Len()).To(Equal(1))

			data, err := store.Load(ctx, id, "at", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(at))
			data, err = store.Load(ctx, id, "over", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(over))
		})

		It("keeps the tier of earlier versions", func() {
			_, err := store.Save(ctx, id, "grow", []byte("small"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Save(ctx, id, "grow", bytes.Repeat([]byte("large "), 20))
			Expect(err).NotTo(HaveOccurred())

			first, err := store.Stat(ctx, id, "grow", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Location).To(Equal(artifact.LocationInline))
			second, err := store.Stat(ctx, id, "grow", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Location).To(Equal(artifact.LocationExternal))
		})

		It("records a digest of the original bytes", func() {
			data := []byte("digest me")
			_, err := store.Save(ctx, id, "d", data)
			Expect(err).NotTo(HaveOccurred())

			meta, err := store.Stat(ctx, id, "d", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Digest).To(Equal(artifact.Digest(data)))
			Expect(meta.Version).To(Equal(1))
			Expect(meta.Identity).To(Equal(id))
			Expect(meta.CreatedAt).To(BeTemporally("==", clock.Now()))
		})

		It("round trips empty payloads", func() {
			_, err := store.Save(ctx, id, "empty", nil)
			Expect(err).NotTo(HaveOccurred())
			data, err := store.Load(ctx, id, "empty", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(BeEmpty())
		})

		It("detects a corrupted external object", func() {
			_, err := store.Save(ctx, id, "big", bytes.Repeat([]byte("z"), Threshold*4))
			Expect(err).NotTo(HaveOccurred())
			meta, err := store.Stat(ctx, id, "big", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(bucket.Put(ctx, meta.Key, []byte("garbage"))).To(Succeed())

			_, err = store.Load(ctx, id, "big", 0)
			Expect(err).To(MatchError(storage.ErrStorageFailure))
		})

		It("reports missing names and versions as not found", func() {
			_, err := store.Load(ctx, id, "missing", 0)
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(err.Error()).To(ContainSubstring("artifact missing not found"))

			_, err = store.Save(ctx, id, "present", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Load(ctx, id, "present", 2)
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, err = store.Stat(ctx, id, "present", 9)
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, err = store.Versions(ctx, id, "missing")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("rejects invalid arguments", func() {
			_, err := store.Save(ctx, id, "", []byte("x"))
			Expect(err).To(MatchError(storage.ErrValidation))
			_, err = store.Load(ctx, id, "x", -1)
			Expect(err).To(MatchError(storage.ErrValidation))
			_, err = store.Save(ctx, session.Identity{AppName: "demo"}, "x", []byte("x"))
			Expect(err).To(MatchError(storage.ErrValidation))
		})

		It("returns a timeout when the context has expired", func() {
			expired, cancel := context.WithDeadline(ctx, time.Now().Add(-time.Second))
			defer cancel()

			_, err := store.Save(expired, id, "late", bytes.Repeat([]byte("l"), Threshold*2))
			Expect(err).To(MatchError(storage.ErrTimeout))

			versions, err := store.List(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(BeEmpty())
			Expect(bucket.Len()).To(Equal(0))
		})

		It("assigns distinct versions to concurrent saves", func() {
			const n = 8
			var wg sync.WaitGroup
			versions := make(chan int, n)
			for i := range n {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					v, err := store.Save(ctx, id, "race", []byte(fmt.Sprintf("writer %d", i)))
					Expect(err).NotTo(HaveOccurred())
					versions <- v
				}()
			}
			wg.Wait()
			close(versions)

			var got []int
			for v := range versions {
				got = append(got, v)
			}
			Expect(got).To(ConsistOf(1, 2, 3, 4, 5, 6, 7, 8))
		})
	})

	Describe("List", func() {
		It("returns distinct names in order", func() {
			for _, name := range []string{"zeta", "alpha", "zeta", "mid"} {
				_, err := store.Save(ctx, id, name, []byte(name))
				Expect(err).NotTo(HaveOccurred())
			}
			names, err := store.List(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"alpha", "mid", "zeta"}))
		})

		It("is scoped to the session", func() {
			other := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s2"}
			_, err := store.Save(ctx, other, "theirs", []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			names, err := store.List(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(BeEmpty())
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			for i := range 3 {
				_, err := store.Save(ctx, id, "report", bytes.Repeat([]byte{byte('a' + i)}, Threshold*2))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(bucket.Len()).To(Equal(3))
		})

		It("removes one version and its object", func() {
			Expect(store.Delete(ctx, id, "report", 2)).To(Succeed())

			versions, err := store.Versions(ctx, id, "report")
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(Equal([]int{1, 3}))
			Expect(bucket.Len()).To(Equal(2))

			v, err := store.Save(ctx, id, "report", []byte("next"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(4))
		})

		It("removes every version when the version is 0", func() {
			Expect(store.Delete(ctx, id, "report", 0)).To(Succeed())

			_, err := store.Load(ctx, id, "report", 0)
			Expect(err).To(MatchError(storage.ErrNotFound))
			Expect(bucket.Len()).To(Equal(0))
		})

		It("reports a missing version as not found", func() {
			Expect(store.Delete(ctx, id, "report", 7)).To(MatchError(storage.ErrNotFound))
			Expect(store.Delete(ctx, id, "nothing", 0)).To(MatchError(storage.ErrNotFound))
		})

		It("removes a whole session", func() {
			other := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s2"}
			_, err := store.Save(ctx, other, "kept", []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.DeleteSession(ctx, id)).To(Succeed())

			names, err := store.List(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(BeEmpty())
			Expect(bucket.Len()).To(Equal(0))

			names, err = store.List(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"kept"}))
		})
	})

	Describe("Sweep", func() {
		It("removes old unreferenced objects only", func() {
			_, err := store.Save(ctx, id, "live", bytes.Repeat([]byte("q"), Threshold*2))
			Expect(err).NotTo(HaveOccurred())
			Expect(bucket.Put(ctx, "orphan-old", []byte("left behind"))).To(Succeed())

			clock.Advance(2 * time.Hour)
			Expect(bucket.Put(ctx, "orphan-new", []byte("in flight"))).To(Succeed())

			report, err := store.Sweep(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Scanned).To(Equal(3))
			Expect(report.Removed).To(Equal(1))

			_, err = bucket.Get(ctx, "orphan-old")
			Expect(err).To(MatchError(storage.ErrNotFound))
			_, err = bucket.Get(ctx, "orphan-new")
			Expect(err).NotTo(HaveOccurred())

			data, err := store.Load(ctx, id, "live", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(HaveLen(Threshold * 2))
		})

		It("rejects a grace shorter than a save can take", func() {
			Expect(bucket.Put(ctx, "orphan", []byte("in flight"))).To(Succeed())
			clock.Advance(2 * time.Hour)

			for _, grace := range []time.Duration{0, time.Second, artifact.MinSweepGrace - 1} {
				_, err := store.Sweep(ctx, grace)
				Expect(err).To(MatchError(storage.ErrValidation))
			}
			_, err := bucket.Get(ctx, "orphan")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("external write failures", func() {
		It("leaves no metadata when the object cannot be written", func() {
			Expect(store.Close()).To(Succeed())
			store = factory(Config{
				Options: artifact.Options{InlineThreshold: Threshold},
				Bucket:  failingBucket{Bucket: bucket},
				Clock:   clock.Now,
			})

			_, err := store.Save(ctx, id, "big", bytes.Repeat([]byte("f"), Threshold*2))
			Expect(err).To(MatchError(storage.ErrStorageFailure))
			Expect(err.Error()).To(ContainSubstring("disk full"))

			_, err = store.Stat(ctx, id, "big", 0)
			Expect(err).To(MatchError(storage.ErrNotFound))

			v, err := store.Save(ctx, id, "small", []byte("fits"))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(1))
		})
	})
}
