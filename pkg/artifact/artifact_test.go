package artifact_test

import (
	"bytes"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/artifact"
)

var _ = Describe("Tiering", func() {
	It("keeps payloads up to the threshold inline", func() {
		Expect(artifact.TierFor(0, 10)).To(Equal(artifact.LocationInline))
		Expect(artifact.TierFor(10, 10)).To(Equal(artifact.LocationInline))
		Expect(artifact.TierFor(11, 10)).To(Equal(artifact.LocationExternal))
	})

	It("fills in default options", func() {
		opts := artifact.Options{}.Normalize()
		Expect(opts.InlineThreshold).To(Equal(int64(artifact.DefaultInlineThreshold)))
		Expect(opts.Codec).To(Equal(artifact.CodecZstd))
	})

	It("prepares inline payloads without encoding them", func() {
		p, err := artifact.Prepare([]byte("tiny"), artifact.Options{InlineThreshold: 8, Codec: artifact.CodecZstd})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Location).To(Equal(artifact.LocationInline))
		Expect(p.Codec).To(Equal(artifact.CodecNone))
		Expect(p.Data).To(Equal([]byte("tiny")))
	})

	It("opens what it prepared", func() {
		data := bytes.Repeat([]byte("payload "), 64)
		p, err := artifact.Prepare(data, artifact.Options{InlineThreshold: 8, Codec: artifact.CodecLZ4})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Location).To(Equal(artifact.LocationExternal))
		Expect(p.Codec).To(Equal(artifact.CodecLZ4))

		a := &artifact.Artifact{Name: "p", Version: 1, Size: p.Size, Codec: p.Codec, Digest: p.Digest}
		opened, err := a.Open(p.Data)
		Expect(err).NotTo(HaveOccurred())
		Expect(opened).To(Equal(data))
	})

	It("validates names and versions", func() {
		Expect(artifact.ValidateName("report.pdf")).To(Succeed())
		Expect(artifact.ValidateName("")).To(HaveOccurred())
		Expect(artifact.ValidateName(strings.Repeat("n", artifact.MaxNameLength+1))).To(HaveOccurred())
		Expect(artifact.ValidateVersion(0)).To(Succeed())
		Expect(artifact.ValidateVersion(-1)).To(HaveOccurred())
	})

	It("only sweeps objects past the grace period", func() {
		now := time.Now()
		Expect(artifact.Sweepable(now.Add(-2*time.Minute), now, time.Minute)).To(BeTrue())
		Expect(artifact.Sweepable(now.Add(-30*time.Second), now, time.Minute)).To(BeFalse())
	})
})
