package infodb_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"os"
	"time"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/mock"
	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DB", func() {
	var (
		ctx     context.Context
		builder *mock.Builder
	)
	BeforeEach(func() {
		ctx = context.Background()
		builder = mock.NewMemBuilder()
	})
	AfterEach(func() {
		Expect(builder.Close()).To(Succeed())
	})

	Describe("Open", func() {
		It("Should refuse to start without a listener", func() {
			_, err := builder.NewWith(ctx, nil, nil)
			Expect(errors.Is(err, infodb.ErrNoListener)).To(BeTrue())
		})
		It("Should refuse to start without a signer for its own descriptor", func() {
			_, err := infodb.Open(ctx, "lonely", []address.Listener{builder.Listener(0)}, nil,
				infodb.WithTransport(builder.Net.NewTransport()),
				infodb.WithVerifier(auth.NewKeyring()),
			)
			Expect(errors.Is(err, auth.ErrNoSigner)).To(BeTrue())
		})
		It("Should announce itself on open", func() {
			db, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() bool {
				_, ok := db.Get(infodb.TypeInfoService, db.ID())
				return ok
			}).Should(BeTrue())
		})
	})

	Describe("Propagation", func() {
		It("Should spread an entry submitted to one node to its neighbour", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			b, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())

			By("Discovering each other")
			Eventually(a.Neighbours, time.Second).Should(HaveLen(1))
			Eventually(b.Neighbours, time.Second).Should(HaveLen(1))
			Expect(a.Neighbours()[0].ID).To(Equal(b.ID()))

			By("Pushing the entry")
			o, err := a.Submit(ctx, infodb.TypeMixCascade, encode(newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1)))
			Expect(err).ToNot(HaveOccurred())
			Expect(o).To(Equal(infodb.Accepted))
			Eventually(serialOf(b, infodb.TypeMixCascade, "c1"), time.Second).Should(Equal(int64(1)))
		})

		It("Should converge on the newest version", func() {
			a, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			b, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(a.Neighbours, time.Second).Should(HaveLen(1))
			Eventually(b.Neighbours, time.Second).Should(HaveLen(1))

			t0 := time.Now()
			v1 := encode(newEntry(infodb.TypeMixInfo, "m1", t0, 1))
			v2 := encode(newEntry(infodb.TypeMixInfo, "m1", t0, 2))
			Expect(a.Submit(ctx, infodb.TypeMixInfo, v1)).To(Equal(infodb.Accepted))
			Expect(b.Submit(ctx, infodb.TypeMixInfo, v2)).To(Equal(infodb.Accepted))

			Eventually(serialOf(a, infodb.TypeMixInfo, "m1"), time.Second).Should(Equal(int64(2)))
			Eventually(serialOf(b, infodb.TypeMixInfo, "m1"), time.Second).Should(Equal(int64(2)))

			By("Treating the older version as stale")
			Expect(b.Submit(ctx, infodb.TypeMixInfo, v1)).To(Equal(infodb.StaleVersion))
			Consistently(serialOf(a, infodb.TypeMixInfo, "m1"), 200*time.Millisecond).Should(Equal(int64(2)))
		})

		It("Should skip a listener that timed out and reach the next one", func() {
			prop := infodb.PropagationConfig{
				AnnouncePeriod:  50 * time.Millisecond,
				FetchTimeout:    100 * time.Millisecond,
				DeliveryTimeout: 500 * time.Millisecond,
				BlockingFactor:  20,
			}
			dead, live := builder.Listener(10), builder.Listener(11)
			builder.Net.Unreachable(dead.Address())
			b, err := builder.NewWith(ctx, []address.Listener{dead, live}, nil, infodb.WithPropagationConfig(prop))
			Expect(err).ToNot(HaveOccurred())
			Eventually(func() bool {
				_, ok := b.Get(infodb.TypeInfoService, b.ID())
				return ok
			}).Should(BeTrue())
			a, err := builder.NewWith(ctx, []address.Listener{builder.Listener(0)}, []address.Listener{live},
				infodb.WithPropagationConfig(prop))
			Expect(err).ToNot(HaveOccurred())

			By("Reaching the neighbour on its second listener")
			Eventually(func() bool {
				_, ok := b.Get(infodb.TypeInfoService, a.ID())
				return ok
			}, 2*time.Second).Should(BeTrue())
			Expect(builder.Net.Requests(dead.Address())).To(BeNumerically(">=", 1))

			By("Not waiting on the dead listener again")
			before := builder.Net.Requests(dead.Address())
			Expect(a.Submit(ctx, infodb.TypeMixCascade, encode(newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1)))).
				To(Equal(infodb.Accepted))
			Eventually(serialOf(b, infodb.TypeMixCascade, "c1"), 300*time.Millisecond).Should(Equal(int64(1)))
			Consistently(func() int { return builder.Net.Requests(dead.Address()) }, 300*time.Millisecond).
				Should(Equal(before))
		})
	})

	Describe("Authentication", func() {
		var (
			db      *infodb.DB
			trusted *auth.KeySigner
			rogue   *auth.KeySigner
		)
		BeforeEach(func() {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			Expect(err).ToNot(HaveOccurred())
			trusted = auth.NewKeySigner(priv)
			_, priv, err = ed25519.GenerateKey(rand.Reader)
			Expect(err).ToNot(HaveOccurred())
			rogue = auth.NewKeySigner(priv)
			keyring := auth.NewKeyring()
			for _, c := range []infodb.Class{infodb.ClassInfoService, infodb.ClassMix} {
				Expect(keyring.Trust(c, trusted.Public())).To(Succeed())
			}
			db, err = infodb.Open(ctx, "checked", []address.Listener{builder.Listener(0)}, nil,
				infodb.WithTransport(builder.Net.NewTransport()),
				infodb.WithVerifier(keyring),
				infodb.WithSigner(trusted),
				infodb.Unchecked(infodb.ClassPayment),
			)
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(db.Close)
		})
		sign := func(s auth.Signer, e infodb.Entry, c infodb.Class) infodb.Entry {
			signer, sig, err := s.Sign(e.SignedBytes(), c)
			Expect(err).ToNot(HaveOccurred())
			e.Signer, e.Signature = signer, sig
			return e
		}

		It("Should admit unsigned entries of an unchecked class", func() {
			p := newEntry(infodb.TypePaymentInstance, "pi-1", time.Now(), 1)
			Expect(db.Submit(ctx, infodb.TypePaymentInstance, encode(p))).To(Equal(infodb.Accepted))
		})
		It("Should refuse unsigned entries of a checked class", func() {
			c := newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1)
			_, err := db.Submit(ctx, infodb.TypeMixCascade, encode(c))
			Expect(errors.Is(err, auth.ErrNoTrustedPath)).To(BeTrue())
			_, ok := db.Get(infodb.TypeMixCascade, "c1")
			Expect(ok).To(BeFalse())
		})
		It("Should admit entries signed by a trusted key", func() {
			c := sign(trusted, newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1), infodb.ClassMix)
			Expect(db.Submit(ctx, infodb.TypeMixCascade, encode(c))).To(Equal(infodb.Accepted))
			e, ok := db.Get(infodb.TypeMixCascade, "c1")
			Expect(ok).To(BeTrue())
			Expect(e.Verified).To(BeTrue())
		})
		It("Should refuse entries signed by an unknown key", func() {
			c := sign(rogue, newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1), infodb.ClassMix)
			res := db.Handle(ctx, infodb.Request{
				Method: infodb.MethodPost,
				Path:   "/cascade",
				Body:   encode(c),
			})
			Expect(res.Status).To(Equal(http.StatusForbidden))
		})
		It("Should admit a refused payload once checking is switched off for its class", func() {
			body := encode(sign(rogue, newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1), infodb.ClassMix))
			push := func() int {
				return db.Handle(ctx, infodb.Request{Method: infodb.MethodPost, Path: "/cascade", Body: body}).Status
			}
			Expect(push()).To(Equal(http.StatusForbidden))
			Expect(db.SetSignatureCheck(infodb.ClassMix, false)).To(Succeed())
			Expect(db.Submit(ctx, infodb.TypeMixCascade, body)).To(Equal(infodb.Accepted))
			_, ok := db.Get(infodb.TypeMixCascade, "c1")
			Expect(ok).To(BeTrue())

			By("Refusing it again once checking is back on")
			Expect(db.SetSignatureCheck(infodb.ClassMix, true)).To(Succeed())
			next := encode(sign(rogue, newEntry(infodb.TypeMixCascade, "c1", time.Now(), 2), infodb.ClassMix))
			_, err := db.Submit(ctx, infodb.TypeMixCascade, next)
			Expect(auth.Rejected(err)).To(BeTrue())
		})
		It("Should refuse a tampered entry", func() {
			c := sign(trusted, newEntry(infodb.TypeMixCascade, "c1", time.Now(), 1), infodb.ClassMix)
			c.Version.Serial = 2
			_, err := db.Submit(ctx, infodb.TypeMixCascade, encode(c))
			Expect(errors.Is(err, auth.ErrBadSignature)).To(BeTrue())
		})
		It("Should sign its own descriptor", func() {
			Eventually(func() string {
				e, _ := db.Get(infodb.TypeInfoService, "checked")
				return e.Signer
			}).Should(Equal(auth.KeyID(trusted.Public())))
		})
	})

	Describe("Infoservice descriptors", func() {
		var db *infodb.DB
		BeforeEach(func() {
			var err error
			db, err = builder.New(ctx, infodb.WithTTL(infodb.TypeInfoService, 100*time.Millisecond))
			Expect(err).ToNot(HaveOccurred())
		})
		It("Should refuse a descriptor carrying its own id", func() {
			_, err := db.Submit(ctx, infodb.TypeInfoService, encode(newEntry(infodb.TypeInfoService, db.ID(), time.Now(), 1<<50)))
			Expect(errors.Is(err, infodb.ErrOwnEntry)).To(BeTrue())
		})
		It("Should not resurrect an expired descriptor", func() {
			old := encode(newEntry(infodb.TypeInfoService, "is-2", time.Now(), 1))
			Expect(db.Submit(ctx, infodb.TypeInfoService, old)).To(Equal(infodb.Accepted))

			By("Sweeping it once it expires")
			Eventually(func() bool {
				_, ok := db.Get(infodb.TypeInfoService, "is-2")
				return ok
			}, time.Second).Should(BeFalse())

			By("Refusing the same copy")
			Expect(db.Submit(ctx, infodb.TypeInfoService, old)).To(Equal(infodb.StaleVersion))
			_, ok := db.Get(infodb.TypeInfoService, "is-2")
			Expect(ok).To(BeFalse())

			By("Accepting a newer copy")
			Expect(db.Submit(ctx, infodb.TypeInfoService, encode(newEntry(infodb.TypeInfoService, "is-2", time.Now(), 2)))).
				To(Equal(infodb.Accepted))
		})
	})

	Describe("Static entries", func() {
		It("Should keep static entries past their lifetime without distributing them", func() {
			static := newEntry(infodb.TypeMixCascade, "static-1", time.Now().Add(-time.Hour), 1)
			a, err := builder.New(ctx, infodb.WithStaticEntries(static))
			Expect(err).ToNot(HaveOccurred())
			b, err := builder.New(ctx)
			Expect(err).ToNot(HaveOccurred())
			Eventually(b.Neighbours, time.Second).Should(HaveLen(1))
			Consistently(func() bool {
				_, ok := a.Get(infodb.TypeMixCascade, "static-1")
				return ok
			}, 200*time.Millisecond).Should(BeTrue())
			_, ok := b.Get(infodb.TypeMixCascade, "static-1")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Persistence", func() {
		It("Should restore entries after a restart", func() {
			dir, err := os.MkdirTemp("", "infodb")
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
			open := func() *infodb.DB {
				db, err := infodb.Open(ctx, "durable", []address.Listener{builder.Listener(0)}, nil,
					infodb.WithTransport(builder.Net.NewTransport()),
					infodb.Unchecked(infodb.ClassInfoService, infodb.ClassMix, infodb.ClassPayment),
					infodb.WithDir(dir),
				)
				Expect(err).ToNot(HaveOccurred())
				return db
			}
			db := open()
			Expect(db.Submit(ctx, infodb.TypeMixCascade, encode(newEntry(infodb.TypeMixCascade, "c1", time.Now(), 3)))).
				To(Equal(infodb.Accepted))
			Expect(db.Close()).To(Succeed())

			db = open()
			defer func() { Expect(db.Close()).To(Succeed()) }()
			Expect(serialOf(db, infodb.TypeMixCascade, "c1")()).To(Equal(int64(3)))
		})
	})
})
