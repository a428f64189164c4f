package distribute_test

import (
	"context"
	"sync"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/distribute"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/arya-analytics/infodb/internal/peer"
	"github.com/arya-analytics/infodb/internal/store"
	"github.com/arya-analytics/infodb/internal/version"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// transport records posts and hangs on addresses marked dead until the
// request times out.
type transport struct {
	mu    sync.Mutex
	dead  map[address.Address]bool
	posts []address.Address
	tries []address.Address
}

func newTransport() *transport { return &transport{dead: make(map[address.Address]bool)} }

func (t *transport) Post(ctx context.Context, addr address.Address, _ string, _ []byte) error {
	t.mu.Lock()
	t.tries = append(t.tries, addr)
	dead := t.dead[addr]
	t.mu.Unlock()
	if dead {
		<-ctx.Done()
		return ctx.Err()
	}
	t.mu.Lock()
	t.posts = append(t.posts, addr)
	t.mu.Unlock()
	return nil
}

func (t *transport) delivered() []address.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]address.Address(nil), t.posts...)
}

func (t *transport) attempted() []address.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]address.Address(nil), t.tries...)
}

func verified(t entry.Type, id string) entry.Entry {
	return entry.Entry{
		Type:     t,
		ID:       id,
		Version:  version.Version{LastUpdate: time.Now(), Serial: 1},
		Payload:  []byte(`{}`),
		Verified: true,
	}
}

func neighbour(id string, ls ...address.Listener) entry.Entry {
	e := verified(entry.TypeInfoService, id)
	e.Payload, _ = entry.PeerDescriptor{Listeners: ls, Neighbour: true}.Encode()
	return e
}

var _ = Describe("Distributor", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		is     *store.Store
		dir    *peer.Directory
		tr     *transport
		d      *distribute.Distributor
		seed   = address.Listener{Host: "seed", Port: 1}
	)
	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		is = store.New(entry.TypeInfoService, store.Config{})
		var err error
		dir, err = peer.New(is, peer.Config{HostID: "self", InitialContacts: []address.Listener{seed}})
		Expect(err).ToNot(HaveOccurred())
		tr = newTransport()
		d, err = distribute.New(distribute.Config{
			Transport:       tr,
			Directory:       dir,
			DeliveryTimeout: 20 * time.Millisecond,
			BlockingFactor:  5,
		})
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() { cancel() })

	It("Should require a transport and a directory", func() {
		_, err := distribute.New(distribute.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("Should queue without blocking while no worker runs", func() {
		for i := 0; i < 1000; i++ {
			d.AddJob(verified(entry.TypeMixCascade, "c"))
		}
		def, boot := d.Pending()
		Expect(def).To(Equal(1000))
		Expect(boot).To(BeZero())
	})

	It("Should ignore unverified and local only entries", func() {
		e := verified(entry.TypeMixCascade, "c")
		e.Verified = false
		d.AddJob(e)
		d.AddBootstrapJob(verified(entry.TypeInfoServiceID, "x"))
		def, boot := d.Pending()
		Expect(def + boot).To(BeZero())
	})

	It("Should deliver to every neighbour on its first listener", func() {
		is.Update(neighbour("n1", address.Listener{Host: "n1", Port: 1}, address.Listener{Host: "n1", Port: 2}))
		is.Update(neighbour("n2", address.Listener{Host: "n2", Port: 1}))
		go func() { _ = d.Run(ctx) }()
		d.AddJob(verified(entry.TypeMixCascade, "c"))
		Eventually(tr.delivered).Should(ConsistOf(address.Address("n1:1"), address.Address("n2:1")))
	})

	It("Should keep delivering to other targets when one is unreachable", func() {
		is.Update(neighbour("n1", address.Listener{Host: "n1", Port: 1}))
		is.Update(neighbour("n2", address.Listener{Host: "n2", Port: 1}))
		tr.dead["n1:1"] = true
		go func() { _ = d.Run(ctx) }()
		d.AddJob(verified(entry.TypeMixCascade, "c"))
		Eventually(tr.delivered).Should(Equal([]address.Address{"n2:1"}))
		Expect(dir.IsBlocked("n1:1", time.Now())).To(BeTrue())
	})

	It("Should fall back to the next listener and skip the blocked one afterwards", func() {
		is.Update(neighbour("n1", address.Listener{Host: "n1", Port: 1}, address.Listener{Host: "n1", Port: 2}))
		tr.dead["n1:1"] = true
		go func() { _ = d.Run(ctx) }()
		d.AddJob(verified(entry.TypeMixCascade, "c1"))
		Eventually(tr.delivered).Should(Equal([]address.Address{"n1:2"}))
		d.AddJob(verified(entry.TypeMixCascade, "c2"))
		Eventually(tr.delivered).Should(HaveLen(2))
		Expect(tr.attempted()).To(Equal([]address.Address{"n1:1", "n1:2", "n1:2"}))
	})

	It("Should retry an address once its block has lapsed", func() {
		is.Update(neighbour("n1", address.Listener{Host: "n1", Port: 1}))
		tr.dead["n1:1"] = true
		go func() { _ = d.Run(ctx) }()
		d.AddJob(verified(entry.TypeMixCascade, "c1"))
		Eventually(func() bool { return dir.IsBlocked("n1:1", time.Now()) }).Should(BeTrue())
		tr.mu.Lock()
		tr.dead["n1:1"] = false
		tr.mu.Unlock()
		Eventually(func() bool { return dir.IsBlocked("n1:1", time.Now()) }, "1s").Should(BeFalse())
		d.AddJob(verified(entry.TypeMixCascade, "c2"))
		Eventually(tr.delivered).Should(Equal([]address.Address{"n1:1"}))
	})

	Describe("Bootstrap", func() {
		It("Should reach pending seeds and then all neighbours", func() {
			is.Update(neighbour("n1", address.Listener{Host: "n1", Port: 1}))
			go func() { _ = d.Run(ctx) }()
			d.AddBootstrapJob(verified(entry.TypeInfoService, "self"))
			Eventually(tr.delivered).Should(Equal([]address.Address{"seed:1", "n1:1"}))
		})
		It("Should not deliver twice to a seed that is a known neighbour", func() {
			is.Update(neighbour("s", seed))
			go func() { _ = d.Run(ctx) }()
			d.AddBootstrapJob(verified(entry.TypeInfoService, "self"))
			Eventually(tr.delivered).Should(Equal([]address.Address{"seed:1"}))
			Consistently(tr.delivered, "50ms").Should(HaveLen(1))
		})
	})

	Describe("Listener", func() {
		It("Should enqueue only accepted entries marked for distribution", func() {
			l := d.Listener()
			l(store.Event{Variant: store.EventAdded, Entry: verified(entry.TypeMixCascade, "a"), Distribute: true})
			l(store.Event{Variant: store.EventReplaced, Entry: verified(entry.TypeMixCascade, "a"), Distribute: true})
			l(store.Event{Variant: store.EventAdded, Entry: verified(entry.TypeMixCascade, "b")})
			l(store.Event{Variant: store.EventRemoved, Entry: verified(entry.TypeMixCascade, "a"), Distribute: true})
			def, _ := d.Pending()
			Expect(def).To(Equal(2))
		})
	})
})
