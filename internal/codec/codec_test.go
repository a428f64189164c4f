package codec_test

import (
	"bytes"
	"time"

	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/version"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	t0 := time.Date(2022, 5, 1, 12, 0, 0, 123456789, time.UTC)
	cascade := entry.Entry{
		Type:      entry.TypeMixCascade,
		ID:        "cascade-1",
		Version:   version.Version{LastUpdate: t0, Serial: 7},
		Payload:   []byte(`{"mixes":["a","b"]}`),
		Verified:  true,
		Signer:    "k1",
		Signature: []byte{1, 2, 3},
	}

	Describe("Entries", func() {
		It("Should keep the signed form intact and drop local flags", func() {
			b, err := codec.Encode(cascade)
			Expect(err).ToNot(HaveOccurred())
			e, err := codec.Decode(b, entry.TypeMixCascade)
			Expect(err).ToNot(HaveOccurred())
			Expect(e.Verified).To(BeFalse())
			Expect(e.SignedBytes()).To(Equal(cascade.SignedBytes()))
			Expect(e.Signature).To(Equal(cascade.Signature))
		})
		It("Should refuse a document of another type", func() {
			b, _ := codec.Encode(cascade)
			_, err := codec.Decode(b, entry.TypeMixInfo)
			Expect(err).To(MatchError(codec.ErrMalformed))
		})
		It("Should refuse garbage and missing fields", func() {
			for _, doc := range []string{
				`not json`,
				`{"id":"","lastUpdate":"2022-05-01T12:00:00Z","payload":{}}`,
				`{"id":"a","payload":{}}`,
				`{"id":"a","lastUpdate":"2022-05-01T12:00:00Z"}`,
				`{"id":"a","lastUpdate":"2022-05-01T12:00:00Z","payload":null}`,
			} {
				_, err := codec.Decode([]byte(doc), entry.TypeStatus)
				Expect(err).To(MatchError(codec.ErrMalformed), doc)
			}
		})
	})

	Describe("Typed entries", func() {
		It("Should take the type from the document", func() {
			b, _ := codec.Encode(cascade)
			e, err := codec.DecodeTyped(b)
			Expect(err).ToNot(HaveOccurred())
			Expect(e.Type).To(Equal(entry.TypeMixCascade))
			Expect(e.ID).To(Equal("cascade-1"))
		})
		It("Should refuse a document without a known type", func() {
			_, err := codec.DecodeTyped([]byte(`{"id":"x","lastUpdate":"2022-05-01T12:00:00Z","payload":{}}`))
			Expect(err).To(MatchError(codec.ErrMalformed))
		})
	})

	Describe("Listings", func() {
		It("Should skip malformed members", func() {
			b, err := codec.EncodeListing("node-1", entry.TypeMixCascade, []entry.Entry{cascade})
			Expect(err).ToNot(HaveOccurred())
			b = bytes.Replace(b, []byte(`"entries":[`), []byte(`"entries":[{"id":""},`), 1)
			out, err := codec.DecodeListing(b, entry.TypeMixCascade)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].ID).To(Equal("cascade-1"))
		})
		It("Should carry versions in the serials digest", func() {
			b, err := codec.EncodeSerials("node-1", entry.TypeMixCascade, []entry.Entry{cascade})
			Expect(err).ToNot(HaveOccurred())
			Expect(string(b)).ToNot(ContainSubstring("mixes"))
			out, err := codec.DecodeSerials(b, entry.TypeMixCascade)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(HaveLen(1))
			Expect(out[0].Version.EqualTo(cascade.Version)).To(BeTrue())
			Expect(out[0].Verified).To(BeTrue())
		})
	})

	Describe("Records", func() {
		It("Should keep local flags", func() {
			e := cascade
			e.Bootstrap = true
			b, err := codec.EncodeRecord(e)
			Expect(err).ToNot(HaveOccurred())
			out, err := codec.DecodeRecord(b, entry.TypeMixCascade)
			Expect(err).ToNot(HaveOccurred())
			Expect(out.Verified).To(BeTrue())
			Expect(out.Bootstrap).To(BeTrue())
		})
	})

	Describe("Compression", func() {
		It("Should inflate what it deflates", func() {
			b, _ := codec.EncodeListing("node-1", entry.TypeMixCascade, []entry.Entry{cascade, cascade, cascade})
			c, err := codec.Compress(b)
			Expect(err).ToNot(HaveOccurred())
			Expect(len(c)).To(BeNumerically("<", len(b)))
			out, err := codec.Decompress(c)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal(b))
		})
		It("Should reject a corrupt stream", func() {
			_, err := codec.Decompress([]byte("plain"))
			Expect(err).To(MatchError(codec.ErrMalformed))
		})
		It("Should stop inflating at the limit", func() {
			c, err := codec.Compress(make([]byte, 4096))
			Expect(err).ToNot(HaveOccurred())
			out, err := codec.DecompressLimit(c, 4096)
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(HaveLen(4096))
			_, err = codec.DecompressLimit(c, 4095)
			Expect(err).To(MatchError(codec.ErrMalformed))
		})
		It("Should refuse a stream inflating past the default limit", func() {
			c, err := codec.Compress(make([]byte, codec.MaxInflatedSize+1))
			Expect(err).ToNot(HaveOccurred())
			Expect(len(c)).To(BeNumerically("<", 1<<20))
			_, err = codec.Decompress(c)
			Expect(err).To(MatchError(codec.ErrMalformed))
		})
	})
})
