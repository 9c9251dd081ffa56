// Package access holds the contract configuration singleton and the role
// checks every privileged operation goes through.
package access

import "PariLedger/internal/domain"

const (
	// MaxFeeBps caps the platform fee at 10%.
	MaxFeeBps = 1000
	// DefaultFeeBps is the fee applied at genesis.
	DefaultFeeBps = 300
)

// Config is the mutable contract configuration. A single instance is owned
// by the engine; all mutations go through admin-gated methods.
type Config struct {
	Admin        string
	Oracle       string
	Treasury     string
	FeeBps       uint64
	Paused       bool
	NextMarketID uint64

	creators map[string]bool
}

// NewConfig seeds genesis state: the deployer holds every role, fee is
// DefaultFeeBps, the engine is unpaused and no market exists yet.
func NewConfig(deployer string) *Config {
	return &Config{
		Admin:    deployer,
		Oracle:   deployer,
		Treasury: deployer,
		FeeBps:   DefaultFeeBps,
		creators: make(map[string]bool),
	}
}

// ============================================================================
// Role checks
// ============================================================================

func (c *Config) RequireAdmin(caller string) error {
	if caller != c.Admin {
		return domain.ErrNotAuthorized
	}
	return nil
}

// RequireOracle reports a caller that is not the oracle. The mismatch code
// differs per operation, so callers pass the sentinel they surface.
func (c *Config) RequireOracle(caller string, mismatch *domain.Error) error {
	if caller != c.Oracle {
		return mismatch
	}
	return nil
}

// RequireCreator allows the admin and any explicitly authorized creator.
func (c *Config) RequireCreator(caller string) error {
	if caller == c.Admin || c.creators[caller] {
		return nil
	}
	return domain.ErrNotAuthorized
}

func (c *Config) RequireNotPaused() error {
	if c.Paused {
		return domain.ErrPaused
	}
	return nil
}

func (c *Config) IsCreator(addr string) bool {
	return addr == c.Admin || c.creators[addr]
}

// ============================================================================
// Admin mutations
// ============================================================================

func (c *Config) SetOracle(caller, oracle string) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.Oracle = oracle
	return nil
}

func (c *Config) SetTreasury(caller, treasury string) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	c.Treasury = treasury
	return nil
}

func (c *Config) SetFee(caller string, feeBps uint64) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if feeBps > MaxFeeBps {
		return domain.ErrInvalidFee
	}
	c.FeeBps = feeBps
	return nil
}

// TogglePause flips the pause flag and returns the new value.
func (c *Config) TogglePause(caller string) (bool, error) {
	if err := c.RequireAdmin(caller); err != nil {
		return c.Paused, err
	}
	c.Paused = !c.Paused
	return c.Paused, nil
}

func (c *Config) AuthorizeCreator(caller, addr string, allowed bool) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if allowed {
		c.creators[addr] = true
	} else {
		delete(c.creators, addr)
	}
	return nil
}

// AllocateMarketID hands out the next sequential market id.
func (c *Config) AllocateMarketID() uint64 {
	id := c.NextMarketID
	c.NextMarketID++
	return id
}

// Info is the read-only view served to clients.
type Info struct {
	Admin        string `json:"admin"`
	Oracle       string `json:"oracle"`
	Treasury     string `json:"treasury"`
	FeeBps       uint64 `json:"fee_bps"`
	Paused       bool   `json:"paused"`
	NextMarketID uint64 `json:"next_market_id"`
}

func (c *Config) Info() Info {
	return Info{
		Admin:        c.Admin,
		Oracle:       c.Oracle,
		Treasury:     c.Treasury,
		FeeBps:       c.FeeBps,
		Paused:       c.Paused,
		NextMarketID: c.NextMarketID,
	}
}
