package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("VersionLine", func() {
	It("shortens the commit", func() {
		DeferCleanup(func(v, s string) { Version, Sha = v, s }, Version, Sha)
		Version, Sha = "v0.3.0", "0123456789abcdef"

		Expect(VersionLine()).To(Equal("v0.3.0 (0123456)"))
	})

	It("keeps short commits whole", func() {
		Expect(VersionLine()).To(Equal("dev (HEAD)"))
	})
})
