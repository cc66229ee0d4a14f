package resolver_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/storage"
)

type fakeStore struct {
	target string
}

var _ = Describe("Registry", func() {
	var (
		ctx context.Context
		reg *resolver.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = resolver.New()
		for _, scheme := range []string{"inmemory", "sqlite"} {
			reg.Register(resolver.KindSession, scheme, func(_ context.Context, d *resolver.Descriptor) (any, error) {
				return &fakeStore{target: d.Scheme + ":" + d.Target}, nil
			})
		}
	})

	It("resolves a registered scheme", func() {
		svc, err := reg.Resolve(ctx, resolver.KindSession, "sqlite:/tmp/spool.db", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.(*fakeStore).target).To(Equal("sqlite:/tmp/spool.db"))
	})

	It("matches schemes case-insensitively", func() {
		svc, err := reg.Resolve(ctx, resolver.KindSession, "SQLite:x.db", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.(*fakeStore).target).To(Equal("sqlite:x.db"))
	})

	It("names the scheme of an unsupported backend", func() {
		_, err := reg.Resolve(ctx, resolver.KindSession, "mongodb://localhost", nil)
		Expect(err).To(MatchError(storage.ErrUnsupportedBackend))
		Expect(err.Error()).To(ContainSubstring(`"mongodb"`))
	})

	It("keeps kinds apart", func() {
		_, err := reg.Resolve(ctx, resolver.KindArtifact, "sqlite:x.db", nil)
		Expect(err).To(MatchError(storage.ErrUnsupportedBackend))
	})

	It("wraps factory errors with the backend", func() {
		reg.Register(resolver.KindMemory, "broken", func(context.Context, *resolver.Descriptor) (any, error) {
			return nil, errors.New("no connection")
		})
		_, err := reg.Resolve(ctx, resolver.KindMemory, "broken:", nil)
		Expect(err).To(MatchError(ContainSubstring(`memory backend "broken": no connection`)))
	})

	It("lists registered schemes", func() {
		Expect(reg.Schemes(resolver.KindSession)).To(Equal([]string{"inmemory", "sqlite"}))
		Expect(reg.Schemes(resolver.KindMemory)).To(BeEmpty())
	})

	Describe("precedence", func() {
		var env *viper.Viper

		BeforeEach(func() {
			env = viper.New()
			env.SetEnvPrefix("SPOOL")
			env.AutomaticEnv()
		})

		It("prefers an explicit descriptor", func() {
			GinkgoT().Setenv("SPOOL_SESSION_SERVICE", "sqlite:env.db")
			svc, err := reg.Resolve(ctx, resolver.KindSession, "sqlite:explicit.db", env)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.(*fakeStore).target).To(Equal("sqlite:explicit.db"))
		})

		It("falls back to the environment", func() {
			GinkgoT().Setenv("SPOOL_SESSION_SERVICE", "sqlite:env.db")
			svc, err := reg.Resolve(ctx, resolver.KindSession, "", env)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.(*fakeStore).target).To(Equal("sqlite:env.db"))
		})

		It("falls back to the in-memory backend", func() {
			svc, err := reg.Resolve(ctx, resolver.KindSession, "  ", env)
			Expect(err).NotTo(HaveOccurred())
			Expect(svc.(*fakeStore).target).To(Equal("inmemory:"))
		})
	})

	It("asserts the resolved type", func() {
		store, err := resolver.ResolveAs[*fakeStore](ctx, reg, resolver.KindSession, "inmemory:", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(store).NotTo(BeNil())

		_, err = resolver.ResolveAs[error](ctx, reg, resolver.KindSession, "inmemory:", nil)
		Expect(err).To(MatchError(storage.ErrUnsupportedBackend))
	})
})

var _ = Describe("ParseDescriptor", func() {
	It("splits scheme, target and params", func() {
		d, err := resolver.ParseDescriptor("sqlite:/var/lib/spool.db?inline_threshold=1024&artifact_root=/blobs")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Scheme).To(Equal("sqlite"))
		Expect(d.Rest).To(Equal("/var/lib/spool.db?inline_threshold=1024&artifact_root=/blobs"))
		Expect(d.Target).To(Equal("/var/lib/spool.db"))
		Expect(d.Param("artifact_root", "")).To(Equal("/blobs"))

		n, err := d.Int64Param("inline_threshold", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1024)))
	})

	It("strips a URL authority prefix from the target", func() {
		d, err := resolver.ParseDescriptor("postgres://spool@db:5432/spool?sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Target).To(Equal("spool@db:5432/spool"))
		Expect(d.Param("sslmode", "")).To(Equal("disable"))
	})

	It("removes backend params from the connection string", func() {
		d, err := resolver.ParseDescriptor("postgres://db/spool?sslmode=disable&artifact_root=/blobs")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Without("artifact_root")).To(Equal("postgres://db/spool?sslmode=disable"))
		Expect(d.Without("artifact_root", "sslmode")).To(Equal("postgres://db/spool"))
	})

	It("accepts a bare scheme", func() {
		d, err := resolver.ParseDescriptor("inmemory")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Scheme).To(Equal("inmemory"))
		Expect(d.Target).To(BeEmpty())
	})

	It("rejects empty descriptors and missing schemes", func() {
		_, err := resolver.ParseDescriptor("")
		Expect(err).To(HaveOccurred())
		_, err = resolver.ParseDescriptor(":nothing")
		Expect(err).To(HaveOccurred())
	})

	It("reports malformed integer params", func() {
		d, err := resolver.ParseDescriptor("sqlite:x.db?inline_threshold=big")
		Expect(err).NotTo(HaveOccurred())
		_, err = d.Int64Param("inline_threshold", 0)
		Expect(err).To(MatchError(ContainSubstring("inline_threshold")))
	})
})
