package kafka

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("writer configuration", func() {
	It("flushes partial batches within milliseconds by default", func() {
		p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "spool.events"})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		Expect(p.writer.BatchTimeout).To(Equal(DefaultBatchTimeout))
		Expect(p.writer.BatchTimeout).To(BeNumerically("<", 100*time.Millisecond))
		Expect(p.writer.Async).To(BeFalse())
	})

	It("honours a configured batch timeout", func() {
		p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "spool.events", BatchTimeout: 20 * time.Millisecond})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		Expect(p.writer.BatchTimeout).To(Equal(20 * time.Millisecond))
	})
})
