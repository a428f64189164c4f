package config

import (
	"os"
	"time"

	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/entry"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration read from strings like "10s" or "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// Keys configures signing and verification.
type Keys struct {
	// Seed is the hex encoded ed25519 seed this node signs with.
	Seed string `yaml:"seed" validate:"omitempty,hexadecimal,len=64"`
	// Trusted maps a signature class to the hex encoded public keys trusted
	// for it.
	Trusted map[string][]string `yaml:"trusted" validate:"dive,keys,oneof=infoservice mix payment,endkeys,dive,hexadecimal,len=64"`
	// Secret is a shared HMAC secret accepted for every class.
	Secret string `yaml:"secret"`
}

// Propagation tunes the timing of gossip.
type Propagation struct {
	AnnouncePeriod  Duration `yaml:"announce_period"`
	FetchTimeout    Duration `yaml:"fetch_timeout"`
	DeliveryTimeout Duration `yaml:"delivery_timeout"`
	BlockingFactor  int      `yaml:"blocking_factor" validate:"gte=0"`
	CacheWindow     Duration `yaml:"cache_window"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	FlushInterval   Duration `yaml:"flush_interval"`
	// PullTopologyEveryCycle pulls cascades and mixes on every announce
	// cycle instead of only the first.
	PullTopologyEveryCycle bool `yaml:"pull_topology_every_cycle"`
}

// File is the on-disk configuration of a node.
type File struct {
	ID                 string             `yaml:"id"`
	Name               string             `yaml:"name"`
	Listeners          []address.Listener `yaml:"listeners" validate:"dive"`
	Contacts           []address.Listener `yaml:"contacts" validate:"dive"`
	Neighbour          *bool              `yaml:"neighbour"`
	HoldsForwarderList bool               `yaml:"holds_forwarder_list"`
	Transport          string             `yaml:"transport" validate:"oneof=http grpc"`
	DataDir            string             `yaml:"data_dir"`
	LogLevel           string             `yaml:"log_level" validate:"oneof=debug info warn error"`
	Keys               Keys               `yaml:"keys"`
	// Unchecked lists the signature classes admitted without verification.
	Unchecked []string `yaml:"unchecked" validate:"dive,oneof=infoservice mix payment"`
	// TTL overrides the lifetime of entry types, keyed by type name.
	TTL map[string]Duration `yaml:"ttl"`
	// Static lists files holding entries installed on startup.
	Static      []string    `yaml:"static"`
	Propagation Propagation `yaml:"propagation"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() File {
	return File{
		Transport: "http",
		LogLevel:  "info",
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, errors.Wrapf(err, "[config] - read %s", path)
	}
	return Parse(b)
}

// Parse decodes b over the defaults, assigns a random id if none is set and
// validates the result.
func Parse(b []byte) (File, error) {
	f := Default()
	if err := yaml.Unmarshal(b, &f); err != nil {
		return File{}, errors.Wrap(err, "[config] - decode")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Name == "" {
		f.Name = f.ID
	}
	return f, f.Validate()
}

var validate = validator.New()

func (f File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return errors.Wrap(err, "[config] - invalid")
	}
	for name := range f.TTL {
		if _, err := entry.ParseType(name); err != nil {
			return errors.Wrapf(err, "[config] - ttl %q", name)
		}
	}
	return nil
}

// IsNeighbour reports whether the node asks peers to gossip with it. It is
// true unless switched off.
func (f File) IsNeighbour() bool { return f.Neighbour == nil || *f.Neighbour }

// TTLs returns the lifetime overrides keyed by entry type.
func (f File) TTLs() map[entry.Type]time.Duration {
	out := make(map[entry.Type]time.Duration, len(f.TTL))
	for name, d := range f.TTL {
		if t, err := entry.ParseType(name); err == nil {
			out[t] = time.Duration(d)
		}
	}
	return out
}

// UncheckedClasses returns the classes admitted without verification.
func (f File) UncheckedClasses() []entry.Class {
	out := make([]entry.Class, 0, len(f.Unchecked))
	for _, s := range f.Unchecked {
		if c, err := entry.ParseClass(s); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// TrustedKeys returns the trusted public keys keyed by class.
func (f File) TrustedKeys() (map[entry.Class][]string, error) {
	out := make(map[entry.Class][]string, len(f.Keys.Trusted))
	for name, keys := range f.Keys.Trusted {
		c, err := entry.ParseClass(name)
		if err != nil {
			return nil, err
		}
		out[c] = keys
	}
	return out, nil
}
