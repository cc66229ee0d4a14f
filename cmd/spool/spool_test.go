package spoolcmder_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	spoolcmder "github.com/papercomputeco/spool/cmd/spool"
)

var _ = Describe("spool command", func() {
	It("registers every subcommand", func() {
		cmd := spoolcmder.NewSpoolCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"init", "config", "migrate", "status", "session",
			"event", "memory", "artifact", "version",
		))
	})

	It("runs a session end to end against the .spool database", func() {
		dir := GinkgoT().TempDir()
		run := func(in string, args ...string) string {
			out := gbytes.NewBuffer()
			cmd := spoolcmder.NewSpoolCmd()
			cmd.SetOut(out)
			cmd.SetErr(gbytes.NewBuffer())
			cmd.SetIn(strings.NewReader(in))
			cmd.SetArgs(append(args, "--config-dir", dir))
			ExpectWithOffset(1, cmd.Execute()).To(Succeed())
			return string(out.Contents())
		}

		run("", "session", "create", "trip")
		run("", "event", "append", "trip", "find flights to Lisbon", "--author", "user")
		run("", "event", "append", "trip", "two options found", "--author", "agent", "--turn-complete", "--state", "city=Lisbon")
		run("itinerary", "artifact", "put", "trip", "plan.txt", "-")
		run("", "memory", "index", "trip")

		Expect(run("", "memory", "search", "lisbon")).To(ContainSubstring("trip"))
		Expect(run("", "session", "get", "trip")).To(ContainSubstring(`"city": "Lisbon"`))
		Expect(run("", "artifact", "get", "trip", "plan.txt")).To(Equal("itinerary"))

		status := run("", "status")
		Expect(status).To(ContainSubstring("spool.db"))
		Expect(status).To(ContainSubstring("0005"))
		Expect(status).NotTo(ContainSubstring("pending"))

		run("", "session", "delete", "trip")
		Expect(run("", "memory", "search", "lisbon")).To(ContainSubstring("No results found."))
	})
})
