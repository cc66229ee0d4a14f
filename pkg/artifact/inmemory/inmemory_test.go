package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/artifact/artifacttest"
	"github.com/papercomputeco/spool/pkg/artifact/inmemory"
	"github.com/papercomputeco/spool/pkg/session"
)

var _ = Describe("Store", func() {
	artifacttest.StoreSpecs(func(config artifacttest.Config) artifact.Store {
		return inmemory.New(inmemory.Config{
			Options: config.Options,
			Bucket:  config.Bucket,
			Clock:   config.Clock,
		})
	})

	It("defaults to an in-process bucket", func() {
		ctx := context.Background()
		store := inmemory.New(inmemory.Config{Options: artifact.Options{InlineThreshold: 1}})
		defer store.Close()

		id := session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}
		_, err := store.Save(ctx, id, "external", []byte("more than one byte"))
		Expect(err).NotTo(HaveOccurred())

		data, err := store.Load(ctx, id, "external", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("more than one byte"))
	})
})
