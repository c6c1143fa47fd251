package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tillguard/internal/exposure"
	"github.com/roach88/tillguard/internal/pos"
)

// Scenario is one scripted register session.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`

	// Cap is the offline cash cap in minor units. Zero uses
	// exposure.DefaultCap.
	Cap int64 `yaml:"cap,omitempty"`

	// WarnPercent is the meter warn threshold. Zero uses the default.
	WarnPercent int64 `yaml:"warn_percent,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	// Heartbeat runs one connectivity check that succeeds ("up") or
	// fails ("down").
	Heartbeat string `yaml:"heartbeat,omitempty"`

	// Advance moves the clock forward.
	Advance time.Duration `yaml:"advance,omitempty"`

	// Place takes an order at the register.
	Place *PlaceStep `yaml:"place,omitempty"`

	// Sync runs an explicit sync pass.
	Sync bool `yaml:"sync,omitempty"`

	// Override changes the cap of the open session.
	Override *OverrideStep `yaml:"override,omitempty"`

	// Menu publishes a new menu on the backend and loads it through the
	// menu cache.
	Menu []MenuItem `yaml:"menu,omitempty"`

	// Drop makes the backend fail the next submission of each order id
	// with a 503.
	Drop []string `yaml:"drop,omitempty"`

	// Reject makes the backend refuse every submission of each order id
	// with a 422.
	Reject []string `yaml:"reject,omitempty"`
}

// PlaceStep is an order taken at the till.
type PlaceStep struct {
	ID     string `yaml:"id"`
	Method string `yaml:"method"`
	Amount int64  `yaml:"amount"`

	// Expect is the expected result: submitted, queued, refused,
	// card_offline or rejected. Empty skips the check.
	Expect string `yaml:"expect,omitempty"`
}

// OverrideStep is a manager raising or lowering the session cap.
type OverrideStep struct {
	Manager string `yaml:"manager"`
	Cap     int64  `yaml:"cap"`
}

// MenuItem is a menu entry served by the fake backend.
type MenuItem struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price int64  `yaml:"price"`
}

// Assertion checks one aspect of the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Online is the expected connection state (connection).
	Online *bool `yaml:"online,omitempty"`

	// Count is the expected number of unsynced orders (queue).
	Count *int `yaml:"count,omitempty"`

	// IDs are unsynced order ids oldest first (queue), order ids the
	// backend accepted in order (server_orders) or cached menu item ids
	// (menu).
	IDs []string `yaml:"ids,omitempty"`

	// Active says whether an offline session is open (exposure).
	Active *bool `yaml:"active,omitempty"`

	CashTotal   *int64 `yaml:"cash_total,omitempty"`
	PercentUsed *int64 `yaml:"percent_used,omitempty"`
	Remaining   *int64 `yaml:"remaining,omitempty"`
	Level       string `yaml:"level,omitempty"`
}

// Assertion types.
const (
	AssertConnection   = "connection"
	AssertQueue        = "queue"
	AssertExposure     = "exposure"
	AssertServerOrders = "server_orders"
	AssertMenu         = "menu"
)

// Expected results of a place step.
const (
	ExpectSubmitted   = "submitted"
	ExpectQueued      = "queued"
	ExpectRefused     = "refused"
	ExpectCardOffline = "card_offline"
	ExpectRejected    = "rejected"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Cap < 0 {
		return fmt.Errorf("cap: %w", exposure.ErrInvalidCap)
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return errors.New("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	if step.Heartbeat != "" {
		set++
		if step.Heartbeat != "up" && step.Heartbeat != "down" {
			return fmt.Errorf("heartbeat must be up or down, got %q", step.Heartbeat)
		}
	}
	if step.Advance != 0 {
		set++
		if step.Advance < 0 {
			return fmt.Errorf("advance must be positive, got %s", step.Advance)
		}
	}
	if step.Place != nil {
		set++
		if step.Place.ID == "" {
			return errors.New("place: id is required")
		}
		if !pos.PaymentMethod(step.Place.Method).Valid() {
			return fmt.Errorf("place: unknown payment method %q", step.Place.Method)
		}
		switch step.Place.Expect {
		case "", ExpectSubmitted, ExpectQueued, ExpectRefused, ExpectCardOffline, ExpectRejected:
		default:
			return fmt.Errorf("place: unknown expect %q", step.Place.Expect)
		}
	}
	if step.Sync {
		set++
	}
	if step.Override != nil {
		set++
	}
	if step.Menu != nil {
		set++
	}
	if step.Drop != nil {
		set++
	}
	if step.Reject != nil {
		set++
	}

	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertConnection:
		if a.Online == nil {
			return errors.New("connection: online is required")
		}
	case AssertQueue:
		if a.Count == nil && a.IDs == nil {
			return errors.New("queue: count or ids is required")
		}
	case AssertExposure:
		switch exposure.Level(a.Level) {
		case "", exposure.LevelOK, exposure.LevelWarn, exposure.LevelCapReached:
		default:
			return fmt.Errorf("exposure: unknown level %q", a.Level)
		}
	case AssertServerOrders, AssertMenu:
		if a.IDs == nil {
			return fmt.Errorf("%s: ids is required", a.Type)
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
