package artifact_test

import (
	"bytes"
	"crypto/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/artifact"
)

var _ = Describe("Codec", func() {
	compressible := bytes.Repeat([]byte("the quick brown fox "), 200)

	DescribeTable("round trips compressible payloads",
		func(codec artifact.Codec) {
			encoded, used, err := artifact.Encode(codec, compressible)
			Expect(err).NotTo(HaveOccurred())
			Expect(used).To(Equal(codec))
			Expect(len(encoded)).To(BeNumerically("<", len(compressible)))

			decoded, err := artifact.Decode(used, encoded, int64(len(compressible)))
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded).To(Equal(compressible))
		},
		Entry("zstd", artifact.CodecZstd),
		Entry("lz4", artifact.CodecLZ4),
	)

	It("stores incompressible payloads as is", func() {
		random := make([]byte, 4096)
		_, err := rand.Read(random)
		Expect(err).NotTo(HaveOccurred())

		encoded, used, err := artifact.Encode(artifact.CodecZstd, random)
		Expect(err).NotTo(HaveOccurred())
		Expect(used).To(Equal(artifact.CodecNone))
		Expect(encoded).To(Equal(random))
	})

	It("rejects a payload whose size does not match", func() {
		encoded, used, err := artifact.Encode(artifact.CodecZstd, compressible)
		Expect(err).NotTo(HaveOccurred())
		_, err = artifact.Decode(used, encoded, 10)
		Expect(err).To(HaveOccurred())
	})

	It("parses configured codec names", func() {
		c, err := artifact.ParseCodec("")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(artifact.CodecZstd))
		c, err = artifact.ParseCodec("lz4")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(artifact.CodecLZ4))
		_, err = artifact.ParseCodec("gzip")
		Expect(err).To(MatchError(ContainSubstring("gzip")))
	})

	It("verifies digests", func() {
		d := artifact.Digest([]byte("abc"))
		Expect(d).To(HavePrefix("blake3:"))
		Expect(d).To(HaveLen(len("blake3:") + 64))
		Expect(artifact.Verify([]byte("abc"), d)).To(Succeed())
		Expect(artifact.Verify([]byte("abd"), d)).To(MatchError(artifact.ErrCorrupt))
	})
})
