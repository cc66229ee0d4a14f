package eventcmder_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	eventcmder "github.com/papercomputeco/spool/cmd/spool/event"
	sessioncmder "github.com/papercomputeco/spool/cmd/spool/session"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

var _ = Describe("event command", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	newRoot := func(out io.Writer, in io.Reader, args ...string) *cobra.Command {
		root := &cobra.Command{Use: "spool", SilenceUsage: true, SilenceErrors: true}
		backend.AddRootFlags(root)
		root.AddCommand(sessioncmder.NewSessionCmd(), eventcmder.NewEventCmd())
		root.SetOut(out)
		if in != nil {
			root.SetIn(in)
		}
		root.SetArgs(append(args, "--config-dir", dir, "--app", "demo", "--user", "u1"))
		return root
	}

	run := func(args ...string) (string, error) {
		out := gbytes.NewBuffer()
		err := newRoot(out, nil, args...).Execute()
		return string(out.Contents()), err
	}

	BeforeEach(func() {
		_, err := run("session", "create", "s1")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("append", func() {
		It("appends content from the argument with state and flags", func() {
			out, err := run("event", "append", "s1", "what's the weather?", "--author", "user", "--state", "topic=weather")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("seq 1"))

			out, err = run("session", "get", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`"topic": "weather"`))
		})

		It("reads content from stdin", func() {
			out := gbytes.NewBuffer()
			root := newRoot(out, strings.NewReader(`{"tool":"forecast"}`), "event", "append", "s1", "-", "--author", "agent", "--turn-complete")
			Expect(root.Execute()).To(Succeed())

			listed, err := run("event", "list", "s1", "--json")
			Expect(err).NotTo(HaveOccurred())
			var ev session.Event
			Expect(json.Unmarshal([]byte(listed), &ev)).To(Succeed())
			Expect(string(ev.Content)).To(Equal(`{"tool":"forecast"}`))
			Expect(ev.Author).To(Equal("agent"))
			Expect(ev.TurnComplete).To(BeTrue())
		})

		It("records event errors", func() {
			_, err := run("event", "append", "s1", "boom", "--author", "agent", "--error-code", "tool_failed")
			Expect(err).NotTo(HaveOccurred())

			out, err := run("event", "list", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("error:tool_failed"))
		})

		It("fails for a missing session", func() {
			_, err := run("event", "append", "nope", "hi")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("list and get", func() {
		BeforeEach(func() {
			for _, args := range [][]string{
				{"event", "append", "s1", "hel", "--author", "agent", "--partial"},
				{"event", "append", "s1", "lo", "--author", "agent", "--partial", "--turn-complete"},
				{"event", "append", "s1", "next", "--author", "user"},
			} {
				_, err := run(args...)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("lists events in order", func() {
			out, err := run("event", "list", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Index(out, "hel")).To(BeNumerically("<", strings.Index(out, "next")))
			Expect(out).To(ContainSubstring("partial"))
		})

		It("coalesces partial events into turns", func() {
			out, err := run("event", "list", "s1", "--coalesce")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("hello"))
			Expect(strings.Count(out, "\n")).To(Equal(2))
		})

		It("lists events after a cursor and fetches one event", func() {
			out, err := run("event", "list", "s1", "--json")
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(out), "\n")
			Expect(lines).To(HaveLen(3))

			var first session.Event
			Expect(json.Unmarshal([]byte(lines[0]), &first)).To(Succeed())

			out, err = run("event", "list", "s1", "--json", "--since", first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Split(strings.TrimSpace(out), "\n")).To(HaveLen(2))

			out, err = run("event", "get", "s1", first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(first.ID))

			_, err = run("event", "get", "s1", "missing")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("tail", func() {
		It("resumes after the saved cursor", func() {
			_, err := run("event", "append", "s1", "first")
			Expect(err).NotTo(HaveOccurred())

			out, err := run("event", "tail", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("first"))

			_, err = run("event", "append", "s1", "second")
			Expect(err).NotTo(HaveOccurred())

			out, err = run("event", "tail", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("second"))
			Expect(out).NotTo(ContainSubstring("first"))

			data, err := os.ReadFile(filepath.Join(dir, "cursors.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("demo/u1/s1"))

			out, err = run("event", "tail", "s1", "--from-start")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("first"))
		})

		It("starts over when the cursor event is gone", func() {
			_, err := run("event", "append", "s1", "old")
			Expect(err).NotTo(HaveOccurred())
			_, err = run("event", "tail", "s1")
			Expect(err).NotTo(HaveOccurred())

			_, err = run("session", "delete", "s1")
			Expect(err).NotTo(HaveOccurred())
			_, err = run("session", "create", "s1")
			Expect(err).NotTo(HaveOccurred())
			_, err = run("event", "append", "s1", "fresh")
			Expect(err).NotTo(HaveOccurred())

			out, err := run("event", "tail", "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("fresh"))
		})

		It("follows new events until cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			out := gbytes.NewBuffer()
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- newRoot(out, nil, "event", "tail", "s1", "--follow", "--interval", "50ms").ExecuteContext(ctx)
			}()

			_, err := run("event", "append", "s1", "live update")
			Expect(err).NotTo(HaveOccurred())
			Eventually(out).Should(gbytes.Say("live update"))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
