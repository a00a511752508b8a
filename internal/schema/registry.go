package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for common numeric fields.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
	NotionalScale Scale `json:"notionalScale"`
	FeeScale      Scale `json:"feeScale"`
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// AssetID is the numeric identifier for an asset.
type AssetID uint32

// AccountID is the numeric identifier for a trading account.
type AccountID uint32

// StrategyID is the numeric identifier for a strategy.
type StrategyID uint32

// Venue describes a trading venue or broker.
type Venue struct {
	ID   VenueID
	Name string
}

// Asset describes a balance-bearing currency or coin.
type Asset struct {
	ID    AssetID
	Name  string
	Scale Scale
}

// Account describes a trading account.
type Account struct {
	ID   AccountID
	Name string
}

// Strategy describes a strategy tag.
type Strategy struct {
	ID   StrategyID
	Name string
}

// Symbol describes a tradable instrument. Base is the asset sold on a sell,
// Quote the asset spent on a buy. TypicalQty anchors the fat-finger check.
type Symbol struct {
	ID         SymbolID
	VenueID    VenueID
	Name       string
	Base       AssetID
	Quote      AssetID
	Scale      ScaleSpec
	TypicalQty Quantity
}

// Registry stores venue, asset, account, strategy and symbol mappings in a
// compact form.
type Registry struct {
	venues         []Venue
	assets         []Asset
	accounts       []Account
	strategies     []Strategy
	symbols        []Symbol
	venueByName    map[string]VenueID
	assetByName    map[string]AssetID
	accountByName  map[string]AccountID
	strategyByName map[string]StrategyID
	symbolByName   map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:    make(map[string]VenueID),
		assetByName:    make(map[string]AssetID),
		accountByName:  make(map[string]AccountID),
		strategyByName: make(map[string]StrategyID),
		symbolByName:   make(map[string]SymbolID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddAsset registers a new asset and returns its ID.
func (r *Registry) AddAsset(name string, scale Scale) (AssetID, error) {
	if name == "" {
		return 0, fmt.Errorf("asset name is empty")
	}
	if id, ok := r.assetByName[name]; ok {
		return id, fmt.Errorf("asset already exists: %s", name)
	}
	id := AssetID(len(r.assets) + 1)
	r.assets = append(r.assets, Asset{ID: id, Name: name, Scale: scale})
	r.assetByName[name] = id
	return id, nil
}

// AddAccount registers a new account and returns its ID.
func (r *Registry) AddAccount(name string) (AccountID, error) {
	if name == "" {
		return 0, fmt.Errorf("account name is empty")
	}
	if id, ok := r.accountByName[name]; ok {
		return id, fmt.Errorf("account already exists: %s", name)
	}
	id := AccountID(len(r.accounts) + 1)
	r.accounts = append(r.accounts, Account{ID: id, Name: name})
	r.accountByName[name] = id
	return id, nil
}

// AddStrategy registers a new strategy and returns its ID.
func (r *Registry) AddStrategy(name string) (StrategyID, error) {
	if name == "" {
		return 0, fmt.Errorf("strategy name is empty")
	}
	if id, ok := r.strategyByName[name]; ok {
		return id, fmt.Errorf("strategy already exists: %s", name)
	}
	id := StrategyID(len(r.strategies) + 1)
	r.strategies = append(r.strategies, Strategy{ID: id, Name: name})
	r.strategyByName[name] = id
	return id, nil
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string, venueID VenueID, base, quote AssetID, scale ScaleSpec, typicalQty Quantity) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if venueID == 0 {
		return 0, fmt.Errorf("venue id is invalid")
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, fmt.Errorf("venue id not found: %d", venueID)
	}
	if _, ok := r.Asset(base); !ok {
		return 0, fmt.Errorf("base asset id not found: %d", base)
	}
	if _, ok := r.Asset(quote); !ok {
		return 0, fmt.Errorf("quote asset id not found: %d", quote)
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:         id,
		VenueID:    venueID,
		Name:       name,
		Base:       base,
		Quote:      quote,
		Scale:      scale,
		TypicalQty: typicalQty,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Asset returns the asset by ID.
func (r *Registry) Asset(id AssetID) (Asset, bool) {
	if id == 0 || int(id) > len(r.assets) {
		return Asset{}, false
	}
	return r.assets[id-1], true
}

// Account returns the account by ID.
func (r *Registry) Account(id AccountID) (Account, bool) {
	if id == 0 || int(id) > len(r.accounts) {
		return Account{}, false
	}
	return r.accounts[id-1], true
}

// Strategy returns the strategy by ID.
func (r *Registry) Strategy(id StrategyID) (Strategy, bool) {
	if id == 0 || int(id) > len(r.strategies) {
		return Strategy{}, false
	}
	return r.strategies[id-1], true
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// AssetCount returns the number of assets in the registry.
func (r *Registry) AssetCount() int {
	return len(r.assets)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}

// AssetAt returns the asset by zero-based index.
func (r *Registry) AssetAt(index int) (Asset, bool) {
	if index < 0 || index >= len(r.assets) {
		return Asset{}, false
	}
	return r.assets[index], true
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// AssetIDByName returns the asset ID for a name.
func (r *Registry) AssetIDByName(name string) (AssetID, bool) {
	id, ok := r.assetByName[name]
	return id, ok
}

// AccountIDByName returns the account ID for a name.
func (r *Registry) AccountIDByName(name string) (AccountID, bool) {
	id, ok := r.accountByName[name]
	return id, ok
}

// StrategyIDByName returns the strategy ID for a name.
func (r *Registry) StrategyIDByName(name string) (StrategyID, bool) {
	id, ok := r.strategyByName[name]
	return id, ok
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}
