package migratecmder_test

import (
	"bytes"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	migratecmder "github.com/papercomputeco/spool/cmd/spool/migrate"
)

var _ = Describe("migrate command", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	run := func(args ...string) error {
		root := &cobra.Command{Use: "spool", SilenceUsage: true}
		backend.AddRootFlags(root)
		root.AddCommand(migratecmder.NewMigrateCmd())
		root.SetOut(out)
		root.SetArgs(append([]string{"migrate", "--config-dir", dir}, args...))
		return root.Execute()
	}

	It("lists pending migrations on a dry run", func() {
		Expect(run("--dry-run")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Pending migrations"))
		Expect(out.String()).To(ContainSubstring("0005"))
	})

	It("applies every migration once", func() {
		Expect(run()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("0001"))
		Expect(filepath.Join(dir, "spool.db")).To(BeAnExistingFile())

		out.Reset()
		Expect(run()).To(Succeed())
		Expect(out.String()).To(ContainSubstring("up to date"))
	})

	It("refuses backends without a schema", func() {
		Expect(run("--session-service", "inmemory:")).To(MatchError(ContainSubstring("no schema")))
	})
})
