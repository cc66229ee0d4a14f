package memorycmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	eventcmder "github.com/papercomputeco/spool/cmd/spool/event"
	memorycmder "github.com/papercomputeco/spool/cmd/spool/memory"
	sessioncmder "github.com/papercomputeco/spool/cmd/spool/session"
)

var _ = Describe("memory command", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	run := func(args ...string) (string, error) {
		out := gbytes.NewBuffer()
		root := &cobra.Command{Use: "spool", SilenceUsage: true, SilenceErrors: true}
		backend.AddRootFlags(root)
		root.AddCommand(sessioncmder.NewSessionCmd(), eventcmder.NewEventCmd(), memorycmder.NewMemoryCmd())
		root.SetOut(out)
		root.SetArgs(append(args, "--config-dir", dir, "--app", "demo", "--user", "u1"))
		err := root.Execute()
		return string(out.Contents()), err
	}

	mustRun := func(args ...string) string {
		out, err := run(args...)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return out
	}

	BeforeEach(func() {
		mustRun("session", "create", "s1")
		mustRun("event", "append", "s1", "what is the weather in Paris?", "--author", "user")
		mustRun("event", "append", "s1", "sunny and mild", "--author", "agent", "--turn-complete")
		mustRun("session", "create", "s2")
		mustRun("event", "append", "s2", "book a table for dinner", "--author", "user")
	})

	Describe("index", func() {
		It("indexes the named sessions", func() {
			out := mustRun("memory", "index", "s1")
			Expect(out).To(ContainSubstring("Indexing 1 sessions"))
			Expect(out).To(ContainSubstring("2 indexed"))

			out = mustRun("memory", "index", "s1")
			Expect(out).To(ContainSubstring("0 indexed"))
			Expect(out).To(ContainSubstring("2 already indexed"))
		})

		It("indexes every session of the user with --all", func() {
			out := mustRun("memory", "index", "--all", "--index-workers", "2")
			Expect(out).To(ContainSubstring("Indexing 2 sessions"))
			Expect(out).To(ContainSubstring("3 indexed"))
		})

		It("requires either session ids or --all", func() {
			_, err := run("memory", "index")
			Expect(err).To(MatchError(ContainSubstring("--all")))

			_, err = run("memory", "index", "s1", "--all")
			Expect(err).To(HaveOccurred())
		})

		It("fails for a missing session", func() {
			_, err := run("memory", "index", "nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("search", func() {
		It("ranks matching entries", func() {
			mustRun("memory", "index", "--all")

			out := mustRun("memory", "search", "weather", "paris")
			Expect(out).To(ContainSubstring(`"weather paris"`))
			Expect(out).To(ContainSubstring("#1"))
			Expect(out).To(ContainSubstring("s1"))
			Expect(out).NotTo(ContainSubstring("dinner"))
		})

		It("honors --limit", func() {
			mustRun("memory", "index", "--all")

			out := mustRun("memory", "search", "user", "-n", "1")
			Expect(out).To(ContainSubstring("#1"))
			Expect(out).NotTo(ContainSubstring("#2"))
		})

		It("reports when nothing matches", func() {
			Expect(mustRun("memory", "search", "weather")).To(ContainSubstring("No results found."))
		})

		It("finds turns indexed automatically on append", func() {
			mustRun("session", "create", "s3")
			mustRun("event", "append", "s3", "plan a hiking trip", "--author", "user")
			mustRun("event", "append", "s3", "try the alps", "--author", "agent", "--turn-complete", "--auto-index")

			out := mustRun("memory", "search", "hiking")
			Expect(out).To(ContainSubstring("s3"))
		})
	})
})
