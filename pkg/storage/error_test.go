package storage_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/storage"
)

var _ = Describe("FailureCtx", func() {
	driverErr := errors.New("database is locked")

	It("reports a storage failure while the context is live", func() {
		err := storage.FailureCtx(context.Background(), "append event", driverErr)
		Expect(err).To(MatchError(storage.ErrStorageFailure))
		Expect(err.Error()).To(ContainSubstring("database is locked"))
	})

	It("turns any failure into a timeout once the deadline has passed", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		<-ctx.Done()

		err := storage.FailureCtx(ctx, "append event", driverErr)
		Expect(err).To(MatchError(storage.ErrTimeout))
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(err.Error()).NotTo(ContainSubstring("locked"))

		wrapped := storage.FailureCtx(ctx, "append event", storage.Failure("append event", driverErr))
		Expect(wrapped).To(MatchError(storage.ErrTimeout))
	})

	It("keeps caller-facing kinds after cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.FailureCtx(ctx, "get session", storage.NotFound("get session", "session not found"))
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("passes nil through", func() {
		Expect(storage.FailureCtx(context.Background(), "op", nil)).To(Succeed())
	})
})
