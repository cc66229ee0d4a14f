package services_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/papercomputeco/spool/pkg/artifact"
	artifactmem "github.com/papercomputeco/spool/pkg/artifact/inmemory"
	"github.com/papercomputeco/spool/pkg/artifact/sqlartifact"
	"github.com/papercomputeco/spool/pkg/memory/local"
	"github.com/papercomputeco/spool/pkg/memory/sqlindex"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/state"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	"github.com/papercomputeco/spool/pkg/storage/sqlstore"
	testutils "github.com/papercomputeco/spool/pkg/utils/test"
)

var _ = Describe("Resolve", func() {
	var (
		ctx context.Context
		id  session.Identity
	)

	BeforeEach(func() {
		ctx = context.Background()
		id = session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
	})

	It("falls back to in-memory backends", func() {
		set, err := services.Resolve(ctx, services.Config{})
		Expect(err).NotTo(HaveOccurred())
		defer set.Close()

		Expect(set.Sessions).To(BeAssignableToTypeOf(&inmemory.Driver{}))
		Expect(set.Memory).To(BeAssignableToTypeOf(&local.Driver{}))
		Expect(set.Artifacts).To(BeAssignableToTypeOf(&artifactmem.Store{}))
	})

	It("uses environment defaults", func() {
		GinkgoT().Setenv("SPOOL_SESSION_SERVICE", "sqlite::memory:")
		env := viper.New()
		env.SetEnvPrefix("SPOOL")
		env.AutomaticEnv()

		set, err := services.Resolve(ctx, services.Config{Env: env})
		Expect(err).NotTo(HaveOccurred())
		defer set.Close()

		Expect(set.Sessions).To(BeAssignableToTypeOf(&sqlstore.Store{}))
		Expect(set.Memory).To(BeAssignableToTypeOf(&local.Driver{}))
	})

	It("names the scheme of an unsupported backend", func() {
		_, err := services.Resolve(ctx, services.Config{Memory: "memorybank://projects/p"})
		Expect(err).To(MatchError(storage.ErrUnsupportedBackend))
		Expect(err.Error()).To(ContainSubstring(`"memorybank"`))
	})

	It("requires the libsql build tag for libsql descriptors", func() {
		_, err := services.Resolve(ctx, services.Config{Session: "libsql:spool.db"})
		Expect(err).To(MatchError(storage.ErrUnsupportedBackend))
	})

	It("rejects malformed artifact params", func() {
		_, err := services.Resolve(ctx, services.Config{Artifact: "inmemory:?inline_threshold=lots"})
		Expect(err).To(MatchError(storage.ErrValidation))
		_, err = services.Resolve(ctx, services.Config{Artifact: "inmemory:?codec=gzip"})
		Expect(err).To(MatchError(storage.ErrValidation))
	})

	It("registers every SQL scheme for every kind", func() {
		r := resolver.New()
		services.RegisterBuiltins(r, &services.Deps{Config: &services.Config{}})
		for _, kind := range resolver.Kinds {
			Expect(r.Schemes(kind)).To(ContainElements(services.SQLSchemes), string(kind))
		}
	})

	It("accepts the db+ aliases for memory and artifacts", func() {
		dsn := "db+sqlite:" + filepath.Join(GinkgoT().TempDir(), "spool.db")
		set, err := services.Resolve(ctx, services.Config{Session: dsn, Memory: dsn, Artifact: dsn})
		Expect(err).NotTo(HaveOccurred())
		defer set.Close()

		Expect(set.Sessions).To(BeAssignableToTypeOf(&sqlstore.Store{}))
		Expect(set.Memory).To(BeAssignableToTypeOf(&sqlindex.Indexer{}))
		Expect(set.Artifacts).To(BeAssignableToTypeOf(&sqlartifact.Store{}))
	})

	It("registers extra backends", func() {
		set, err := services.Resolve(ctx, services.Config{
			Session: "custom:",
			Extend: func(r *resolver.Registry, _ *services.Deps) {
				r.Register(resolver.KindSession, "custom", func(context.Context, *resolver.Descriptor) (any, error) {
					return inmemory.NewDriver(), nil
				})
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Close()).To(Succeed())
	})

	Describe("on one SQLite file", func() {
		var (
			dir string
			set *services.Set
		)

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
			dsn := "sqlite:" + filepath.Join(dir, "spool.db")

			var err error
			set, err = services.Resolve(ctx, services.Config{
				Session:  dsn,
				Memory:   dsn,
				Artifact: dsn + "?inline_threshold=8",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(set.Close()).To(Succeed())
		})

		It("resolves SQL backends", func() {
			Expect(set.Sessions).To(BeAssignableToTypeOf(&sqlstore.Store{}))
			Expect(set.Memory).To(BeAssignableToTypeOf(&sqlindex.Indexer{}))
			Expect(set.Artifacts).To(BeAssignableToTypeOf(&sqlartifact.Store{}))
		})

		It("runs the demo conversation end to end", func() {
			_, err := set.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())

			first, err := set.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi"), StateDelta: state.State{"topic": "greeting"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = set.AppendEvent(ctx, id, &session.Event{Author: "agent", Content: []byte("hello!"), StateDelta: state.State{"turns": 1}})
			Expect(err).NotTo(HaveOccurred())

			sess, err := set.Sessions.GetSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.State).To(Equal(state.State{"topic": "greeting", "turns": 1.0}))

			_, err = set.Memory.IndexSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			results, err := set.Memory.Search(ctx, "demo", "u1", "greeting", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).NotTo(BeEmpty())
			Expect(results[0].Ref.EventID).To(Equal(first.ID))
		})

		It("stores large artifacts next to the database", func() {
			_, err := set.Artifacts.Save(ctx, id, "big", []byte("more than eight bytes"))
			Expect(err).NotTo(HaveOccurred())

			meta, err := set.Artifacts.Stat(ctx, id, "big", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Location).To(Equal(artifact.LocationExternal))
			Expect(filepath.Join(dir, "artifacts", meta.Key[:2], meta.Key+".blob")).To(BeAnExistingFile())
		})

		It("cascades session deletes", func() {
			_, err := set.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = set.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("remember the cascade")})
			Expect(err).NotTo(HaveOccurred())
			_, err = set.Memory.IndexSession(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			_, err = set.Artifacts.Save(ctx, id, "big", []byte("more than eight bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(set.DeleteSession(ctx, id)).To(Succeed())

			_, err = set.Sessions.GetSession(ctx, id)
			Expect(err).To(MatchError(storage.ErrNotFound))
			results, err := set.Memory.Search(ctx, "demo", "u1", "cascade", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
			names, err := set.Artifacts.List(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(BeEmpty())

			report, err := set.Artifacts.Sweep(ctx, artifact.MinSweepGrace)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Removed).To(Equal(0))
		})

		It("reports a missing session after sweeping the other stores", func() {
			Expect(set.DeleteSession(ctx, id)).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("append follow-ups", func() {
		It("publishes a notification per append", func() {
			pub := &testutils.MockPublisher{}
			set, err := services.Resolve(ctx, services.Config{Publisher: pub})
			Expect(err).NotTo(HaveOccurred())

			_, err = set.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			stored, err := set.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi")})
			Expect(err).NotTo(HaveOccurred())

			events := pub.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Event.ID).To(Equal(stored.ID))
			Expect(events[0].Session).To(Equal(id))

			Expect(set.Close()).To(Succeed())
			Expect(pub.Closed()).To(BeTrue())
		})

		It("does not fail the append when publishing fails", func() {
			pub := &testutils.MockPublisher{Err: errors.New("broker down")}
			set, err := services.Resolve(ctx, services.Config{Publisher: pub})
			Expect(err).NotTo(HaveOccurred())
			defer set.Close()

			_, err = set.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = set.AppendEvent(ctx, id, &session.Event{Author: "user", Content: []byte("hi")})
			Expect(err).NotTo(HaveOccurred())
		})

		It("indexes sessions in the background on turn completion", func() {
			set, err := services.Resolve(ctx, services.Config{AutoIndex: true, IndexWorkers: 1})
			Expect(err).NotTo(HaveOccurred())
			defer set.Close()

			_, err = set.CreateSession(ctx, id, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = set.AppendEvent(ctx, id, &session.Event{Author: "agent", Content: []byte("the weather is sunny"), TurnComplete: true})
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				results, err := set.Memory.Search(ctx, "demo", "u1", "weather", 10)
				Expect(err).NotTo(HaveOccurred())
				return len(results)
			}).Should(Equal(1))
		})
	})
})
