package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario defines a cart scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock's initial time. Defaults to testutil.Epoch.
	Start time.Time `yaml:"start,omitempty"`

	// Window overrides the discount window length (Go duration string).
	Window string `yaml:"window,omitempty"`

	// Seed is the cart persisted before the first step.
	Seed []ItemSpec `yaml:"seed,omitempty"`

	// SeedRaw is a raw persisted value, used to exercise corrupt data.
	// Mutually exclusive with Seed.
	SeedRaw string `yaml:"seed_raw,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ItemSpec describes a cart item in a scenario.
type ItemSpec struct {
	ID              string `yaml:"id"`
	Title           string `yaml:"title,omitempty"`
	Price           string `yaml:"price"`
	Quantity        int    `yaml:"quantity"`
	DiscountPercent int    `yaml:"discount_percent,omitempty"`

	// AddedAgo places AddedAt in the past relative to Start (seed only).
	AddedAgo string `yaml:"added_ago,omitempty"`
}

// Step is one operation against the cart.
type Step struct {
	Op       string    `yaml:"op"`
	Item     *ItemSpec `yaml:"item,omitempty"`
	ID       string    `yaml:"id,omitempty"`
	Quantity int       `yaml:"quantity,omitempty"`
	Percent  int       `yaml:"percent,omitempty"`
	Duration string    `yaml:"duration,omitempty"`
	Expect   *Expect   `yaml:"expect,omitempty"`
}

// Expect checks the state right after a step. Unset fields are not checked.
type Expect struct {
	Items  *int          `yaml:"items,omitempty"`
	Totals *TotalsExpect `yaml:"totals,omitempty"`
	Fired  []string      `yaml:"fired,omitempty"`
	Events *int          `yaml:"events,omitempty"`
	Error  string        `yaml:"error,omitempty"`
	Notice *bool         `yaml:"notice,omitempty"`
}

// TotalsExpect lists expected totals as decimal strings.
type TotalsExpect struct {
	TotalQuantity   *int   `yaml:"total_quantity,omitempty"`
	OriginalTotal   string `yaml:"original_total,omitempty"`
	DiscountedTotal string `yaml:"discounted_total,omitempty"`
	TotalSavings    string `yaml:"total_savings,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	ID              string `yaml:"id,omitempty"`
	Quantity        *int   `yaml:"quantity,omitempty"`
	DiscountPercent *int   `yaml:"discount_percent,omitempty"`
	Price           string `yaml:"price,omitempty"`
	Count           *int   `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpAdd         = "add"
	OpSetQuantity = "set_quantity"
	OpRemove      = "remove"
	OpStrip       = "strip"
	OpGrant       = "grant"
	OpClear       = "clear"
	OpAdvance     = "advance"
	OpTick        = "tick"
	OpReload      = "reload"
	OpFailWrites  = "fail_writes"
	OpHeal        = "heal"
	OpRetry       = "retry"
)

// Assertion type constants.
const (
	AssertItem           = "item"
	AssertItemAbsent     = "item_absent"
	AssertEventCount     = "event_count"
	AssertPersistedItems = "persisted_items"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Window != "" {
		if d, err := time.ParseDuration(s.Window); err != nil || d <= 0 {
			return fmt.Errorf("window: invalid duration %q", s.Window)
		}
	}
	if len(s.Seed) > 0 && s.SeedRaw != "" {
		return fmt.Errorf("seed and seed_raw are mutually exclusive")
	}

	for i, item := range s.Seed {
		if err := validateItem(fmt.Sprintf("seed[%d]", i), item); err != nil {
			return err
		}
		if item.AddedAgo != "" {
			if _, err := time.ParseDuration(item.AddedAgo); err != nil {
				return fmt.Errorf("seed[%d]: invalid added_ago %q", i, item.AddedAgo)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateItem(where string, item ItemSpec) error {
	if item.ID == "" {
		return fmt.Errorf("%s: id is required", where)
	}
	if _, err := decimal.NewFromString(item.Price); err != nil {
		return fmt.Errorf("%s: invalid price %q", where, item.Price)
	}
	return nil
}

func validateStep(i int, step Step) error {
	switch step.Op {
	case OpAdd:
		if step.Item == nil {
			return fmt.Errorf("steps[%d]: item is required for add", i)
		}
		if step.Item.AddedAgo != "" {
			return fmt.Errorf("steps[%d]: added_ago is only valid in seed", i)
		}
		return validateItem(fmt.Sprintf("steps[%d].item", i), *step.Item)
	case OpSetQuantity, OpRemove, OpStrip, OpGrant:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", i, step.Op)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(step.Duration); err != nil {
			return fmt.Errorf("steps[%d]: invalid duration %q", i, step.Duration)
		}
	case OpClear, OpTick, OpReload, OpFailWrites, OpHeal, OpRetry:
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertItem, AssertItemAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertEventCount, AssertPersistedItems:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
