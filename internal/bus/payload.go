package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadData is implemented by every typed payload variant. Payloads travel
// as schemaless JSON maps on the wire; handlers decode them into one of these
// types using the "kind" field.
type PayloadData interface {
	// Kind returns the discriminator value stored in the payload map.
	Kind() string
}

// Payload kinds.
const (
	KindNarrativeShift  = "narrative_shift"
	KindSafetyAlert     = "safety_alert"
	KindDefiSnapshot    = "defi_snapshot"
	KindPriceAlert      = "price_alert"
	KindVolumeSpike     = "volume_spike"
	KindTokenPrices     = "token_prices"
	KindCommunityReport = "community_report"
	KindLaunchEvent     = "launch_event"
	KindHealthReport    = "health_report"
	KindTokenUpdate     = "token_update"
	KindAdminCommand    = "admin_command"
	KindCycleReport     = "cycle_report"
)

// NarrativeShift is scout intel about a market narrative. CryptoBullish is
// nil when the scout could not classify sentiment; consumers fall back to
// keyword inference over Summary.
type NarrativeShift struct {
	Summary       string   `json:"summary"`
	Topics        []string `json:"topics,omitempty"`
	CryptoBullish *bool    `json:"cryptoBullish,omitempty"`
	Sources       int      `json:"sources,omitempty"`
}

func (d *NarrativeShift) Kind() string { return KindNarrativeShift }

// SafetyAlert is a guardian warning. Category selects the renderer on the
// supervisor side; an empty category falls back to the generic warning.
type SafetyAlert struct {
	Category               string  `json:"category,omitempty"`
	Token                  string  `json:"token,omitempty"`
	Details                string  `json:"details"`
	TvlDropPct             float64 `json:"tvlDropPct,omitempty"`
	LiquidationDistancePct float64 `json:"liquidationDistancePct,omitempty"`
}

func (d *SafetyAlert) Kind() string { return KindSafetyAlert }

// PoolStat is one pool line inside a DeFi snapshot.
type PoolStat struct {
	Name   string  `json:"name"`
	TvlUsd float64 `json:"tvlUsd"`
	ApyPct float64 `json:"apyPct"`
}

// DefiSnapshot is the analyst's periodic market overview.
type DefiSnapshot struct {
	TotalTvlUsd float64    `json:"totalTvlUsd"`
	PoolCount   int        `json:"poolCount,omitempty"`
	TopPools    []PoolStat `json:"topPools,omitempty"`
}

func (d *DefiSnapshot) Kind() string { return KindDefiSnapshot }

// PriceAlert flags a large move on a tracked asset.
type PriceAlert struct {
	Symbol    string  `json:"symbol"`
	PriceUsd  float64 `json:"priceUsd"`
	ChangePct float64 `json:"changePct"`
}

func (d *PriceAlert) Kind() string { return KindPriceAlert }

// VolumeSpike flags volume running well above its moving average, with the
// RSI reading taken at the same bar.
type VolumeSpike struct {
	Symbol     string  `json:"symbol"`
	RatioToSma float64 `json:"ratioToSma"`
	Rsi        float64 `json:"rsi,omitempty"`
}

func (d *VolumeSpike) Kind() string { return KindVolumeSpike }

// TokenMove is one entry in the analyst's movers table.
type TokenMove struct {
	Symbol    string  `json:"symbol"`
	PriceUsd  float64 `json:"priceUsd"`
	ChangePct float64 `json:"changePct"`
}

// TokenPrices is the analyst's enriched price table.
type TokenPrices struct {
	Prices   map[string]float64 `json:"prices"`
	Movers   []TokenMove        `json:"movers,omitempty"`
	Trending []string           `json:"trending,omitempty"`
}

func (d *TokenPrices) Kind() string { return KindTokenPrices }

// CommunityReport summarises community activity over a window.
type CommunityReport struct {
	EngagementSpike bool   `json:"engagementSpike,omitempty"`
	Bans            int    `json:"bans,omitempty"`
	WindowMinutes   int    `json:"windowMinutes,omitempty"`
	Highlights      string `json:"highlights,omitempty"`
}

func (d *CommunityReport) Kind() string { return KindCommunityReport }

// LaunchEvent reports a launchpad lifecycle change. Stage is "launched" or
// "graduated".
type LaunchEvent struct {
	Stage        string  `json:"stage"`
	TokenAddress string  `json:"tokenAddress"`
	Name         string  `json:"name,omitempty"`
	Symbol       string  `json:"symbol,omitempty"`
	MarketCapUsd float64 `json:"marketCapUsd,omitempty"`
}

func (d *LaunchEvent) Kind() string { return KindLaunchEvent }

// HealthReport carries host vitals and swarm liveness findings.
type HealthReport struct {
	CpuPct      float64  `json:"cpuPct"`
	MemPct      float64  `json:"memPct"`
	DiskPct     float64  `json:"diskPct"`
	BusPending  int      `json:"busPending"`
	StaleAgents []string `json:"staleAgents,omitempty"`
}

func (d *HealthReport) Kind() string { return KindHealthReport }

// TokenUpdate is a token-child observation (milestone, rug risk, inactivity).
type TokenUpdate struct {
	Event        string  `json:"event"`
	TokenAddress string  `json:"tokenAddress"`
	PriceUsd     float64 `json:"priceUsd,omitempty"`
	LiquidityUsd float64 `json:"liquidityUsd,omitempty"`
	Note         string  `json:"note,omitempty"`
}

func (d *TokenUpdate) Kind() string { return KindTokenUpdate }

// AdminCommand is an operator instruction routed over the bus.
type AdminCommand struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func (d *AdminCommand) Kind() string { return KindAdminCommand }

// CycleReport is the decision engine's summary of one completed cycle.
type CycleReport struct {
	TraceID   string `json:"traceId"`
	Summary   string `json:"summary"`
	Decisions int    `json:"decisions"`
	Executed  int    `json:"executed"`
	Failed    int    `json:"failed"`
}

func (d *CycleReport) Kind() string { return KindCycleReport }

// Generic is the fallback for payloads whose kind is unknown or absent.
// Handlers receiving Generic log and acknowledge without acting.
type Generic struct {
	PayloadKind string
	Fields      map[string]interface{}
}

func (d *Generic) Kind() string { return d.PayloadKind }

// Encode converts a typed payload into the schemaless map stored on the bus,
// with the kind discriminator injected. The map form keeps the messages table
// readable with plain SQL while senders and handlers stay type-safe.
func Encode(data PayloadData) (map[string]interface{}, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload %s: %w", data.Kind(), err)
	}

	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten payload %s: %w", data.Kind(), err)
	}
	fields["kind"] = data.Kind()
	return fields, nil
}

// Decode turns a message's payload map back into its typed variant using the
// "kind" field. Unknown or missing kinds return Generic rather than an error
// so that handlers can log and acknowledge without special cases.
func Decode(m *Message) PayloadData {
	kind, _ := m.Payload["kind"].(string)

	var data PayloadData
	switch kind {
	case KindNarrativeShift:
		data = &NarrativeShift{}
	case KindSafetyAlert:
		data = &SafetyAlert{}
	case KindDefiSnapshot:
		data = &DefiSnapshot{}
	case KindPriceAlert:
		data = &PriceAlert{}
	case KindVolumeSpike:
		data = &VolumeSpike{}
	case KindTokenPrices:
		data = &TokenPrices{}
	case KindCommunityReport:
		data = &CommunityReport{}
	case KindLaunchEvent:
		data = &LaunchEvent{}
	case KindHealthReport:
		data = &HealthReport{}
	case KindTokenUpdate:
		data = &TokenUpdate{}
	case KindAdminCommand:
		data = &AdminCommand{}
	case KindCycleReport:
		data = &CycleReport{}
	default:
		return &Generic{PayloadKind: kind, Fields: m.Payload}
	}

	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return &Generic{PayloadKind: kind, Fields: m.Payload}
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return &Generic{PayloadKind: kind, Fields: m.Payload}
	}
	return data
}

// PayloadString extracts a string field from a schemaless payload.
func PayloadString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

// PayloadFloat extracts a numeric field from a schemaless payload. JSON
// numbers decode as float64; integer senders are handled too.
func PayloadFloat(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// PayloadTime extracts a Unix-seconds timestamp field from a payload.
func PayloadTime(payload map[string]interface{}, key string) (time.Time, bool) {
	sec := PayloadFloat(payload, key)
	if sec == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(sec), 0).UTC(), true
}
