package retention

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

//go:embed rules.yaml
var defaultRulesRaw []byte

const (
	DefaultMaxOffers = 3
	defaultReasonKey = "default"
)

var _ contractx.RuleTable = (*Table)(nil)

type rulesFile struct {
	MaxOffers int                                           `yaml:"max_offers"`
	Tiers     map[string]map[string][]statex.RetentionOffer `yaml:"tiers"`
	Defaults  []statex.RetentionOffer                       `yaml:"defaults"`
}

// Table is an immutable rule table; it is safe for concurrent reads.
type Table struct {
	maxOffers int
	rules     map[statex.Tier]map[string][]statex.RetentionOffer
	defaults  []statex.RetentionOffer
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(bytes.NewReader(defaultRulesRaw))
	if err != nil {
		panic(fmt.Sprintf("embedded retention rules: %v", err))
	}
	return t
}

// Load reads a rules file. An empty path yields the embedded rules. JSON
// files are accepted as well since they parse as YAML.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open retention rules: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("retention rules %s: %w", path, err)
	}
	return t, nil
}

func Parse(r io.Reader) (*Table, error) {
	var raw rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: decode rules: %v", contractx.ErrValidation, err)
	}

	t := &Table{
		maxOffers: raw.MaxOffers,
		rules:     make(map[statex.Tier]map[string][]statex.RetentionOffer, len(raw.Tiers)),
	}
	if t.maxOffers <= 0 {
		t.maxOffers = DefaultMaxOffers
	}

	for rawTier, byReason := range raw.Tiers {
		tier, err := statex.ParseTier(rawTier)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
		}
		bucket := t.rules[tier]
		if bucket == nil {
			bucket = make(map[string][]statex.RetentionOffer, len(byReason))
			t.rules[tier] = bucket
		}
		for reason, offers := range byReason {
			key := strings.ToLower(strings.TrimSpace(reason))
			if err := checkOffers(offers); err != nil {
				return nil, fmt.Errorf("tier=%s reason=%s: %w", tier, key, err)
			}
			bucket[key] = offers
		}
	}

	if err := checkOffers(raw.Defaults); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	t.defaults = raw.Defaults
	return t, nil
}

func checkOffers(offers []statex.RetentionOffer) error {
	seen := make(map[string]struct{}, len(offers))
	for i, o := range offers {
		switch o.Kind {
		case statex.OfferDiscount, statex.OfferPause, statex.OfferDowngrade, statex.OfferSpecial:
		default:
			return fmt.Errorf("%w: offer %d has unknown kind %q", contractx.ErrValidation, i, o.Kind)
		}
		if strings.TrimSpace(o.Description) == "" {
			return fmt.Errorf("%w: offer %d has no description", contractx.ErrValidation, i)
		}
		if _, dup := seen[o.Key()]; dup {
			return fmt.Errorf("%w: offer %s listed twice", contractx.ErrValidation, o.Key())
		}
		seen[o.Key()] = struct{}{}
	}
	return nil
}

func (t *Table) MaxOffers() int {
	return t.maxOffers
}

// OffersFor returns a copy of the offers for tier and reason in rule order.
func (t *Table) OffersFor(tier statex.Tier, reason string) []statex.RetentionOffer {
	reason = strings.ToLower(strings.TrimSpace(reason))

	if bucket, ok := t.rules[tier]; ok {
		if offers, ok := bucket[reason]; ok && len(offers) > 0 {
			return cloneOffers(offers)
		}
		if offers, ok := bucket[defaultReasonKey]; ok && len(offers) > 0 {
			return cloneOffers(offers)
		}
	}
	return cloneOffers(t.defaults)
}

func cloneOffers(in []statex.RetentionOffer) []statex.RetentionOffer {
	if len(in) == 0 {
		return nil
	}
	return append([]statex.RetentionOffer(nil), in...)
}
