package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vhftag/tagfinder/internal/gaptag/tag"
	"github.com/vhftag/tagfinder/internal/security"
)

// DefaultParamsPath is the on-disk location of the canonical parameter
// defaults, relative to the repository root. Operators may copy this file
// and pass a customized path to LoadParameters for a partial override.
const DefaultParamsPath = "internal/config/params.defaults.json"

//go:embed params.defaults.json
var embeddedDefaults []byte

// Parameters holds every tunable named by the recognition engine's
// parameter set. Every field is a pointer so a JSON file only needs to
// name the values it overrides; omitted fields fall back to the
// embedded defaults the same way TuningConfig falls back to its
// Get* defaults.
type Parameters struct {
	// DefaultFreqMHz is the receiver's starting nominal frequency, used
	// until the first "S,...,-m,..." record arrives (or always, if
	// ForceDefaultFreq is set).
	DefaultFreqMHz *float64 `json:"default_freq,omitempty"`

	// ForceDefaultFreq, when true, ignores every per-port frequency
	// record for the whole batch (decision recorded in SPEC_FULL.md §11).
	ForceDefaultFreq *bool `json:"force_default_freq,omitempty"`

	// MinDFreqKHz and MaxDFreqKHz bound the plausible offset-frequency
	// range; pulses outside are treated as data faults.
	MinDFreqKHz *float64 `json:"min_dfreq,omitempty"`
	MaxDFreqKHz *float64 `json:"max_dfreq,omitempty"`

	// PulseSlopMS is the intra-burst gap tolerance in milliseconds.
	PulseSlopMS *float64 `json:"pulse_slop,omitempty"`
	// BurstSlopMS is the inter-burst gap tolerance in milliseconds.
	BurstSlopMS *float64 `json:"burst_slop,omitempty"`
	// BurstSlopExpansionMS widens BurstSlopMS per skipped burst.
	BurstSlopExpansionMS *float64 `json:"burst_slop_expansion,omitempty"`

	// FreqSlopKHz is the maximum offset-frequency spread within a
	// candidate's burst.
	FreqSlopKHz *float64 `json:"freq_slop,omitempty"`
	// SigSlopDB is the maximum signal-strength spread within a
	// candidate's burst; negative disables the check.
	SigSlopDB *float64 `json:"sig_slop,omitempty"`

	// PulsesToConfirmID is the number of consecutive matching pulses
	// required before a candidate is promoted to CONFIRMED. Must be >= N
	// (tag.PulsesPerBurst).
	PulsesToConfirmID *int `json:"pulses_to_confirm_id,omitempty"`
	// MaxSkippedBursts bounds how many whole bursts a candidate may miss
	// before it is reaped.
	MaxSkippedBursts *int `json:"max_skipped_bursts,omitempty"`

	// MaxPulseRateHz, PulseRateWindowS and MinBogusSpacingS parameterize
	// the rate-limit filter; the filter itself is interface-only per
	// spec.md §1 Non-goals, so these fields are carried for callers that
	// implement it externally.
	MaxPulseRateHz    *float64 `json:"max_pulse_rate,omitempty"`
	PulseRateWindowS  *float64 `json:"pulse_rate_window,omitempty"`
	MinBogusSpacingS  *float64 `json:"min_bogus_spacing,omitempty"`

	// TimestampWonkiness selects the gap graph's clock-jump handling: 0
	// adds no extra edges, 1 adds, for every tag, the parallel subgraph
	// columns that tolerate a +/-1 s jump between records
	// (graph.AddTagOptions.TimestampWonkiness).
	TimestampWonkiness *int `json:"timestamp_wonkiness,omitempty"`

	// UseEvents is carried in the parameter set but not read by the
	// conductor: cmd/findtags always loads the events table and hands
	// it to the event timeline, and foray.New adds every tag at startup
	// whatever its value.
	UseEvents *bool `json:"use_events,omitempty"`

	// BootNum is written as the boot session of every batch row emitted
	// by this run. Clock repair does not read it.
	BootNum *int `json:"boot_num,omitempty"`

	// Resume is carried in the parameter set but not read by the
	// conductor: no batchState blob is loaded or saved, and every run
	// starts fresh.
	Resume *bool `json:"resume,omitempty"`
}

// Empty returns a Parameters with every field nil; LoadParameters should
// be preferred for anything other than test fixtures that set specific
// fields directly.
func Empty() *Parameters { return &Parameters{} }

// Defaults returns the embedded canonical defaults.
func Defaults() (*Parameters, error) {
	p := Empty()
	if err := json.Unmarshal(embeddedDefaults, p); err != nil {
		return nil, fmt.Errorf("config: parse embedded defaults: %w", err)
	}
	return p, nil
}

// LoadParameters loads a Parameters override file from path, validates it,
// and layers it over the embedded defaults. path must have a .json
// extension, be under 1MB, and resolve inside allowedDir (pass "" to
// allow any path under the current working directory).
func LoadParameters(path, allowedDir string) (*Parameters, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config: parameters file must have .json extension, got %q", ext)
	}

	if allowedDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: resolve working directory: %w", err)
		}
		allowedDir = cwd
	}
	if err := security.ValidatePathWithinDirectory(cleanPath, allowedDir); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("config: stat parameters file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config: parameters file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("config: read parameters file: %w", err)
	}

	merged, err := Defaults()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, merged); err != nil {
		return nil, fmt.Errorf("config: parse parameters JSON: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid parameters: %w", err)
	}
	return merged, nil
}

// MustDefaults returns the embedded defaults, panicking if they fail to
// parse; intended for test setup, mirroring MustLoadDefaultConfig.
func MustDefaults() *Parameters {
	p, err := Defaults()
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks cross-field constraints the JSON schema cannot express.
func (p *Parameters) Validate() error {
	if p.MinDFreqKHz != nil && p.MaxDFreqKHz != nil && *p.MinDFreqKHz > *p.MaxDFreqKHz {
		return fmt.Errorf("min_dfreq (%f) exceeds max_dfreq (%f)", *p.MinDFreqKHz, *p.MaxDFreqKHz)
	}
	if p.PulsesToConfirmID != nil && *p.PulsesToConfirmID < tag.PulsesPerBurst {
		return fmt.Errorf("pulses_to_confirm_id must be at least %d, got %d", tag.PulsesPerBurst, *p.PulsesToConfirmID)
	}
	if p.MaxSkippedBursts != nil && *p.MaxSkippedBursts < 0 {
		return fmt.Errorf("max_skipped_bursts must be non-negative, got %d", *p.MaxSkippedBursts)
	}
	if p.TimestampWonkiness != nil && *p.TimestampWonkiness != 0 && *p.TimestampWonkiness != 1 {
		return fmt.Errorf("timestamp_wonkiness must be 0 or 1, got %d", *p.TimestampWonkiness)
	}
	return nil
}

// GetDefaultFreqMHz returns DefaultFreqMHz or its embedded default.
func (p *Parameters) GetDefaultFreqMHz() float64 { return get(p.DefaultFreqMHz, 166.380) }

// GetForceDefaultFreq returns ForceDefaultFreq or its embedded default.
func (p *Parameters) GetForceDefaultFreq() bool { return get(p.ForceDefaultFreq, false) }

// GetMinDFreqKHz returns MinDFreqKHz or its embedded default.
func (p *Parameters) GetMinDFreqKHz() float64 { return get(p.MinDFreqKHz, -100.0) }

// GetMaxDFreqKHz returns MaxDFreqKHz or its embedded default.
func (p *Parameters) GetMaxDFreqKHz() float64 { return get(p.MaxDFreqKHz, 100.0) }

// GetPulseSlopSeconds returns PulseSlopMS converted to seconds, the unit
// the gap graph operates in.
func (p *Parameters) GetPulseSlopSeconds() float64 { return get(p.PulseSlopMS, 1.5) / 1000.0 }

// GetBurstSlopSeconds returns BurstSlopMS converted to seconds.
func (p *Parameters) GetBurstSlopSeconds() float64 { return get(p.BurstSlopMS, 10.0) / 1000.0 }

// GetBurstSlopExpansionSeconds returns BurstSlopExpansionMS converted to
// seconds. Accepted for CLI/schema parity with the original parameter
// set; graph.MaxTime does not take a burst-slop-expansion argument and
// never calls this getter, matching the ground-truth Graph.cpp's own
// _addTag, which likewise never wires burst_slop_expansion in.
func (p *Parameters) GetBurstSlopExpansionSeconds() float64 {
	return get(p.BurstSlopExpansionMS, 1.0) / 1000.0
}

// GetFreqSlopKHz returns FreqSlopKHz or its embedded default.
func (p *Parameters) GetFreqSlopKHz() float64 { return get(p.FreqSlopKHz, 2.0) }

// GetSigSlopDB returns SigSlopDB or its embedded default. A negative
// value disables the signal-strength check.
func (p *Parameters) GetSigSlopDB() float64 { return get(p.SigSlopDB, 10.0) }

// GetPulsesToConfirmID returns PulsesToConfirmID or its embedded default.
func (p *Parameters) GetPulsesToConfirmID() int { return get(p.PulsesToConfirmID, 4) }

// GetMaxSkippedBursts returns MaxSkippedBursts or its embedded default.
func (p *Parameters) GetMaxSkippedBursts() int { return get(p.MaxSkippedBursts, 60) }

// GetMaxPulseRateHz returns MaxPulseRateHz or its embedded default.
func (p *Parameters) GetMaxPulseRateHz() float64 { return get(p.MaxPulseRateHz, 50.0) }

// GetPulseRateWindowS returns PulseRateWindowS or its embedded default.
func (p *Parameters) GetPulseRateWindowS() float64 { return get(p.PulseRateWindowS, 5.0) }

// GetMinBogusSpacingS returns MinBogusSpacingS or its embedded default.
func (p *Parameters) GetMinBogusSpacingS() float64 { return get(p.MinBogusSpacingS, 0.5) }

// GetTimestampWonkiness returns TimestampWonkiness or its embedded default.
func (p *Parameters) GetTimestampWonkiness() int { return get(p.TimestampWonkiness, 0) }

// GetUseEvents returns UseEvents or its embedded default.
func (p *Parameters) GetUseEvents() bool { return get(p.UseEvents, false) }

// GetBootNum returns BootNum or its embedded default.
func (p *Parameters) GetBootNum() int { return get(p.BootNum, 0) }

// GetResume returns Resume or its embedded default.
func (p *Parameters) GetResume() bool { return get(p.Resume, false) }

func get[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}
