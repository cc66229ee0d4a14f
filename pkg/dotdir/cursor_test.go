package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/dotdir"
)

var _ = Describe("dotdir.Manager cursors", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		m = dotdir.NewManager()
	})

	It("returns an empty set when no cursor file exists", func() {
		cursors, err := m.LoadCursors(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursors).To(BeEmpty())
	})

	It("saves and loads cursors per session", func() {
		Expect(m.SaveCursor("demo/u1/s1", "e1", tmpDir)).To(Succeed())
		Expect(m.SaveCursor("demo/u1/s2", "e7", tmpDir)).To(Succeed())
		Expect(m.SaveCursor("demo/u1/s1", "e2", tmpDir)).To(Succeed())

		cursors, err := m.LoadCursors(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursors).To(Equal(dotdir.Cursors{"demo/u1/s1": "e2", "demo/u1/s2": "e7"}))
	})

	It("clears one cursor", func() {
		Expect(m.SaveCursor("demo/u1/s1", "e1", tmpDir)).To(Succeed())
		Expect(m.ClearCursor("demo/u1/s1", tmpDir)).To(Succeed())
		Expect(m.ClearCursor("demo/u1/missing", tmpDir)).To(Succeed())

		cursors, err := m.LoadCursors(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cursors).To(BeEmpty())
	})

	It("rejects a cursor without a session", func() {
		Expect(m.SaveCursor("", "e1", tmpDir)).To(HaveOccurred())
	})

	It("reports a corrupt cursor file", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "cursors.json"), []byte("{"), 0o600)).To(Succeed())
		_, err := m.LoadCursors(tmpDir)
		Expect(err).To(MatchError(ContainSubstring("parsing cursors")))
	})
})
