package initcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	initcmder "github.com/papercomputeco/spool/cmd/spool/init"
	"github.com/papercomputeco/spool/pkg/config"
)

var _ = Describe("NewInitCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Use).To(Equal("init"))
	})

	It("rejects any arguments", func() {
		cmd := initcmder.NewInitCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).NotTo(Succeed())
	})
})

var _ = Describe("Init command execution", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		origDir, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Chdir(tmpDir)).To(Succeed())
		DeferCleanup(os.Chdir, origDir)
		out = &bytes.Buffer{}
	})

	run := func(args ...string) error {
		cmd := initcmder.NewInitCmd()
		cmd.SetOut(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	readConfig := func() config.Config {
		var cfg config.Config
		_, err := toml.DecodeFile(filepath.Join(tmpDir, ".spool", "config.toml"), &cfg)
		Expect(err).NotTo(HaveOccurred())
		return cfg
	}

	It("creates a .spool directory with a default config", func() {
		Expect(run()).To(Succeed())

		Expect(filepath.Join(tmpDir, ".spool")).To(BeADirectory())
		Expect(readConfig().Artifacts.Codec).To(Equal("zstd"))
		Expect(out.String()).To(ContainSubstring("Initialized .spool directory"))
	})

	It("leaves an existing config alone", func() {
		Expect(run("--preset", "inmemory")).To(Succeed())
		Expect(run()).To(Succeed())

		Expect(readConfig().Services.Session).To(Equal("inmemory:"))
		Expect(out.String()).To(ContainSubstring("Already initialized"))
	})

	It("writes the named preset", func() {
		Expect(run("--preset", "postgres")).To(Succeed())
		Expect(readConfig().Services.Memory).To(HavePrefix("postgresql://"))
	})

	It("rejects unknown presets", func() {
		Expect(run("--preset", "mongo")).To(MatchError(ContainSubstring("unknown preset")))
	})

	It("writes the config with owner-only permissions", func() {
		Expect(run()).To(Succeed())
		info, err := os.Stat(filepath.Join(tmpDir, ".spool", "config.toml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
	})
})
