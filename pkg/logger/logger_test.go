package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/logger"
)

// decodeLines parses JSON log output, one record per line.
func decodeLines(buf *bytes.Buffer) []map[string]any {
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		ExpectWithOffset(1, json.Unmarshal([]byte(line), &rec)).To(Succeed())
		records = append(records, rec)
	}
	return records
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

var _ = Describe("Logger", func() {
	Describe("New", func() {
		It("writes text at info level by default", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf))
			l.Info("applied migration", "version", "0003")
			l.Debug("hidden")

			Expect(buf.String()).To(ContainSubstring("applied migration"))
			Expect(buf.String()).To(ContainSubstring("version=0003"))
			Expect(buf.String()).NotTo(ContainSubstring("hidden"))
		})

		It("logs debug records when asked to", func() {
			var buf bytes.Buffer
			logger.New(logger.WithWriter(&buf), logger.WithDebug(true)).Debug("resolved services")
			Expect(buf.String()).To(ContainSubstring("resolved services"))
		})

		It("writes JSON records", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON))
			l.Info("appended event", "seq", 42)

			rec := decodeLines(&buf)[0]
			Expect(rec["msg"]).To(Equal("appended event"))
			Expect(rec["seq"]).To(BeNumerically("==", 42))
		})

		It("writes pretty records", func() {
			var buf bytes.Buffer
			logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatPretty)).Warn("publish failed")
			Expect(buf.String()).To(ContainSubstring("publish failed"))
		})

		It("copies output to every writer", func() {
			var a, b bytes.Buffer
			logger.New(logger.WithWriter(&a, &b)).Info("swept bucket")
			Expect(a.String()).To(ContainSubstring("swept bucket"))
			Expect(b.String()).To(Equal(a.String()))
		})
	})

	Describe("ParseFormat", func() {
		It("accepts the known formats and defaults to text", func() {
			Expect(logger.ParseFormat("json")).To(Equal(logger.FormatJSON))
			Expect(logger.ParseFormat("pretty")).To(Equal(logger.FormatPretty))
			Expect(logger.ParseFormat("")).To(Equal(logger.FormatText))
		})

		It("rejects anything else", func() {
			_, err := logger.ParseFormat("xml")
			Expect(err).To(MatchError(ContainSubstring(`"xml"`)))
		})
	})

	Describe("Component", func() {
		It("tags records with the component name", func() {
			var buf bytes.Buffer
			l := logger.New(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON))
			logger.Component(l, "memory").Info("indexed session")

			Expect(decodeLines(&buf)[0]).To(HaveKeyWithValue(logger.ComponentKey, "memory"))
		})

		It("tolerates a nil logger", func() {
			Expect(func() { logger.Component(nil, "artifact").Info("ignored") }).NotTo(Panic())
		})
	})

	Describe("Nop and OrNop", func() {
		It("discards every level", func() {
			h := logger.Nop().Handler()
			Expect(h.Enabled(context.Background(), slog.LevelError)).To(BeFalse())
		})

		It("replaces nil and keeps real loggers", func() {
			Expect(logger.OrNop(nil).Handler().Enabled(context.Background(), slog.LevelError)).To(BeFalse())

			l := logger.New()
			Expect(logger.OrNop(l)).To(BeIdenticalTo(l))
		})
	})

	Describe("Multi", func() {
		It("fans out to each logger at its own level", func() {
			var pretty, file bytes.Buffer
			console := logger.New(logger.WithWriter(&pretty), logger.WithFormat(logger.FormatPretty))
			jsonl := logger.New(logger.WithWriter(&file), logger.WithFormat(logger.FormatJSON), logger.WithDebug(true))

			l := logger.Multi(console, jsonl)
			l.Debug("cursor saved")
			l.Info("tail resumed")

			Expect(pretty.String()).NotTo(ContainSubstring("cursor saved"))
			Expect(pretty.String()).To(ContainSubstring("tail resumed"))
			Expect(decodeLines(&file)).To(HaveLen(2))
		})

		It("carries attributes and groups to every handler", func() {
			var a, b bytes.Buffer
			l := logger.Multi(
				logger.New(logger.WithWriter(&a), logger.WithFormat(logger.FormatJSON)),
				logger.New(logger.WithWriter(&b), logger.WithFormat(logger.FormatJSON)),
			)
			l.With(logger.ComponentKey, "session").WithGroup("event").Info("appended", "author", "user")

			for _, buf := range []*bytes.Buffer{&a, &b} {
				rec := decodeLines(buf)[0]
				Expect(rec).To(HaveKeyWithValue(logger.ComponentKey, "session"))
				Expect(rec["event"]).To(HaveKeyWithValue("author", "user"))
			}
		})

		It("keeps writing when one sink fails", func() {
			var ok bytes.Buffer
			broken := logger.New(logger.WithWriter(failingWriter{}), logger.WithFormat(logger.FormatJSON))
			good := logger.New(logger.WithWriter(&ok), logger.WithFormat(logger.FormatJSON))

			logger.Multi(broken, good).Info("still here")
			Expect(ok.String()).To(ContainSubstring("still here"))
		})

		It("skips nil loggers", func() {
			var buf bytes.Buffer
			logger.Multi(nil, logger.New(logger.WithWriter(&buf))).Info("only one")
			Expect(buf.String()).To(ContainSubstring("only one"))
		})
	})
})
