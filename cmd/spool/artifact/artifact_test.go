package artifactcmder_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/spf13/cobra"

	artifactcmder "github.com/papercomputeco/spool/cmd/spool/artifact"
	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/storage"
)

var _ = Describe("artifact command", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	runWithInput := func(in io.Reader, args ...string) (string, error) {
		out := gbytes.NewBuffer()
		root := &cobra.Command{Use: "spool", SilenceUsage: true, SilenceErrors: true}
		backend.AddRootFlags(root)
		root.AddCommand(artifactcmder.NewArtifactCmd())
		root.SetOut(out)
		if in != nil {
			root.SetIn(in)
		}
		root.SetArgs(append(args, "--config-dir", dir, "--app", "demo", "--user", "u1"))
		err := root.Execute()
		return string(out.Contents()), err
	}

	run := func(args ...string) (string, error) {
		return runWithInput(nil, args...)
	}

	It("stores inline versions from stdin and reads them back", func() {
		out, err := runWithInput(strings.NewReader(`{"plan":"alps"}`), "artifact", "put", "s1", "plan.json", "-")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("v1"))
		Expect(out).To(ContainSubstring("inline"))

		_, err = runWithInput(strings.NewReader(`{"plan":"dolomites"}`), "artifact", "put", "s1", "plan.json", "-")
		Expect(err).NotTo(HaveOccurred())

		out, err = run("artifact", "get", "s1", "plan.json")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"plan":"dolomites"}`))

		out, err = run("artifact", "get", "s1", "plan.json", "--version", "1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(`{"plan":"alps"}`))
	})

	It("stores payloads over the threshold in the bucket", func() {
		src := filepath.Join(dir, "report.txt")
		payload := strings.Repeat("quarterly numbers ", 64)
		Expect(os.WriteFile(src, []byte(payload), 0o600)).To(Succeed())

		out, err := run("artifact", "put", "s1", "report.txt", src, "--inline-threshold", "16", "--codec", "lz4")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("external/lz4"))

		dst := filepath.Join(dir, "copy.txt")
		_, err = run("artifact", "get", "s1", "report.txt", "-o", dst)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.ReadFile(dst)).To(Equal([]byte(payload)))
	})

	It("lists names and versions", func() {
		for _, name := range []string{"b.txt", "a.txt", "b.txt"} {
			_, err := runWithInput(strings.NewReader(name), "artifact", "put", "s1", name, "-")
			Expect(err).NotTo(HaveOccurred())
		}

		out, err := run("artifact", "list", "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Index(out, "a.txt")).To(BeNumerically("<", strings.Index(out, "b.txt")))
		Expect(out).To(ContainSubstring("v2"))

		out, err = run("artifact", "versions", "s1", "b.txt")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("v1"))
		Expect(out).To(ContainSubstring("v2"))
	})

	It("reports an empty session", func() {
		out, err := run("artifact", "list", "s1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("No artifacts."))
	})

	It("deletes one version or all of them", func() {
		for range 2 {
			_, err := runWithInput(strings.NewReader("x"), "artifact", "put", "s1", "x.txt", "-")
			Expect(err).NotTo(HaveOccurred())
		}

		out, err := run("artifact", "rm", "s1", "x.txt", "--version", "1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Deleted version 1"))

		_, err = run("artifact", "get", "s1", "x.txt", "--version", "1")
		Expect(err).To(MatchError(storage.ErrNotFound))

		_, err = run("artifact", "rm", "s1", "x.txt")
		Expect(err).NotTo(HaveOccurred())

		_, err = run("artifact", "versions", "s1", "x.txt")
		Expect(err).To(MatchError(storage.ErrNotFound))
	})

	It("sweeps the bucket", func() {
		out, err := run("artifact", "sweep", "--grace", "1m")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Sweeping artifact bucket"))
		Expect(out).To(ContainSubstring("0 removed"))
	})

	It("refuses a grace shorter than a minute", func() {
		out, err := run("artifact", "sweep", "--grace", "0s")
		Expect(err).To(MatchError(storage.ErrValidation))
		Expect(err.Error()).To(ContainSubstring("minimum"))
		Expect(out).NotTo(ContainSubstring("Sweeping"))
	})
})
