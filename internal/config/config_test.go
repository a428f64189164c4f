package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/config"
	"github.com/arya-analytics/infodb/internal/entry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const full = `
id: is-1
name: First
listeners:
  - host: localhost
    port: 9000
  - host: 10.0.0.1
    port: 443
contacts:
  - host: seed.example.org
    port: 9000
neighbour: false
transport: grpc
data_dir: /var/lib/infodb
log_level: debug
keys:
  seed: 9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60
  trusted:
    infoservice:
      - d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a
unchecked: [payment]
ttl:
  status: 1m
  infoservice: 30m
propagation:
  announce_period: 30s
  delivery_timeout: 2s
  blocking_factor: 3
`

var _ = Describe("Config", func() {
	Describe("Parse", func() {
		It("Should decode every field", func() {
			f, err := config.Parse([]byte(full))
			Expect(err).ToNot(HaveOccurred())
			Expect(f.ID).To(Equal("is-1"))
			Expect(f.Listeners).To(Equal([]address.Listener{
				{Host: "localhost", Port: 9000},
				{Host: "10.0.0.1", Port: 443},
			}))
			Expect(f.Contacts).To(HaveLen(1))
			Expect(f.IsNeighbour()).To(BeFalse())
			Expect(f.Transport).To(Equal("grpc"))
			Expect(time.Duration(f.Propagation.AnnouncePeriod)).To(Equal(30 * time.Second))
			Expect(f.Propagation.BlockingFactor).To(Equal(3))
			Expect(f.TTLs()).To(Equal(map[entry.Type]time.Duration{
				entry.TypeStatus:      time.Minute,
				entry.TypeInfoService: 30 * time.Minute,
			}))
			Expect(f.UncheckedClasses()).To(ConsistOf(entry.ClassPayment))
			keys, err := f.TrustedKeys()
			Expect(err).ToNot(HaveOccurred())
			Expect(keys[entry.ClassInfoService]).To(HaveLen(1))
		})
		It("Should fill defaults for a minimal file", func() {
			f, err := config.Parse([]byte("listeners: [{host: localhost, port: 9000}]"))
			Expect(err).ToNot(HaveOccurred())
			Expect(f.ID).ToNot(BeEmpty())
			Expect(f.Name).To(Equal(f.ID))
			Expect(f.Transport).To(Equal("http"))
			Expect(f.LogLevel).To(Equal("info"))
			Expect(f.IsNeighbour()).To(BeTrue())
		})
		It("Should accept a file without listeners", func() {
			_, err := config.Parse([]byte("id: lonely"))
			Expect(err).ToNot(HaveOccurred())
		})
		DescribeTable("Should reject invalid files",
			func(doc string) {
				_, err := config.Parse([]byte(doc))
				Expect(err).To(HaveOccurred())
			},
			Entry("unknown transport", "transport: quic"),
			Entry("bad port", "listeners: [{host: localhost, port: 70000}]"),
			Entry("missing host", "listeners: [{port: 9000}]"),
			Entry("bad duration", "propagation: {announce_period: soon}"),
			Entry("unknown ttl type", "ttl: {forwarder: 1m}"),
			Entry("unknown class", "unchecked: [everything]"),
			Entry("short seed", "keys: {seed: abcd}"),
			Entry("unknown trusted class", "keys: {trusted: {cascade: [d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a]}}"),
		)
	})
	Describe("Load", func() {
		var dir string
		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "infodb-config")
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
		})
		It("Should read a file from disk", func() {
			path := filepath.Join(dir, "infodb.yaml")
			Expect(os.WriteFile(path, []byte(full), 0o600)).To(Succeed())
			f, err := config.Load(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(f.Name).To(Equal("First"))
		})
		It("Should fail on a missing file", func() {
			_, err := config.Load(filepath.Join(dir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})
})
