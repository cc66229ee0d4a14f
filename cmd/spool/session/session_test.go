package sessioncmder_test

import (
	"bytes"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	sessioncmder "github.com/papercomputeco/spool/cmd/spool/session"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

var _ = Describe("session command", func() {
	var (
		dir string
		out *bytes.Buffer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	run := func(args ...string) error {
		out.Reset()
		root := &cobra.Command{Use: "spool", SilenceUsage: true, SilenceErrors: true}
		backend.AddRootFlags(root)
		root.AddCommand(sessioncmder.NewSessionCmd())
		root.SetOut(out)
		root.SetArgs(append(append([]string{"session"}, args...), "--config-dir", dir, "--app", "demo", "--user", "u1"))
		return root.Execute()
	}

	It("creates a session that persists across invocations", func() {
		Expect(run("create", "s1", "--state", "topic=weather", "--state", "turns=2")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("demo/u1/s1"))

		Expect(run("get", "s1")).To(Succeed())
		var s session.Session
		Expect(json.Unmarshal(out.Bytes(), &s)).To(Succeed())
		Expect(s.Identity).To(Equal(session.Identity{AppName: "demo", UserID: "u1", SessionID: "s1"}))
		Expect(s.State).To(HaveKeyWithValue("topic", "weather"))
		Expect(s.State).To(HaveKeyWithValue("turns", float64(2)))
	})

	It("reports a duplicate create as AlreadyExists", func() {
		Expect(run("create", "s1")).To(Succeed())
		Expect(run("create", "s1")).To(MatchError(storage.ErrAlreadyExists))
	})

	It("lists the user's sessions", func() {
		Expect(run("list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("No sessions."))

		Expect(run("create", "s1")).To(Succeed())
		Expect(run("create", "s2")).To(Succeed())
		Expect(run("list")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("s1"))
		Expect(out.String()).To(ContainSubstring("s2"))
	})

	It("merges state deltas", func() {
		Expect(run("create", "s1", "--state", "a=1")).To(Succeed())
		Expect(run("state", "s1", "b=two")).To(Succeed())

		var st map[string]any
		Expect(json.Unmarshal(out.Bytes(), &st)).To(Succeed())
		Expect(st).To(Equal(map[string]any{"a": float64(1), "b": "two"}))
	})

	It("deletes sessions", func() {
		Expect(run("create", "s1")).To(Succeed())
		Expect(run("delete", "s1")).To(Succeed())
		Expect(run("get", "s1")).To(MatchError(storage.ErrNotFound))
		Expect(run("rm", "s1")).To(MatchError(storage.ErrNotFound))
	})

	It("validates arguments", func() {
		Expect(run("get")).NotTo(Succeed())
		Expect(run("state", "s1")).NotTo(Succeed())
		Expect(run("create", "s1", "--state", "nokey")).To(MatchError(ContainSubstring("invalid assignment")))
	})
})
