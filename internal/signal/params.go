package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params are the tunable inputs shared by all strategies. Fields a
// strategy does not use are simply ignored by it.
type Params struct {
	EMAShort  int `yaml:"ema_short"`
	EMALong   int `yaml:"ema_long"`
	RSIPeriod int `yaml:"rsi_period"`

	RSIBuyMax  float64 `yaml:"rsi_buy_max"`
	RSISellMin float64 `yaml:"rsi_sell_min"`

	MACDFast   int `yaml:"macd_fast"`
	MACDSlow   int `yaml:"macd_slow"`
	MACDSignal int `yaml:"macd_signal"`

	HMAPeriod int `yaml:"hma_period"`

	ADXPeriod int     `yaml:"adx_period"`
	ADXMin    float64 `yaml:"adx_min"`

	VolumeLookback int     `yaml:"volume_lookback"`
	VolumeSpike    float64 `yaml:"volume_spike"`

	// Gap guard: |open[-1] − close[-2]| beyond this fraction of
	// close[-2] forces HOLD for the cycle.
	GapThreshold float64 `yaml:"gap_threshold"`

	// Higher-timeframe confirmation: candles aggregated per HTF bar.
	HTFCompression int `yaml:"htf_compression"`

	ATRPeriod int     `yaml:"atr_period"`
	ATRFloor  float64 `yaml:"atr_floor"`
}

func baseParams() Params {
	return Params{
		EMAShort:       9,
		EMALong:        21,
		RSIPeriod:      14,
		RSIBuyMax:      68,
		RSISellMin:     32,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		HMAPeriod:      16,
		ADXPeriod:      14,
		ADXMin:         20,
		VolumeLookback: 20,
		VolumeSpike:    1.3,
		GapThreshold:   0.001,
		HTFCompression: 4,
		ATRPeriod:      14,
		ATRFloor:       0.7,
	}
}

// DefaultParams returns the built-in parameter set per strategy name.
func DefaultParams() map[string]Params {
	return map[string]Params{
		"basic":      baseParams(),
		"super":      baseParams(),
		"trendguard": baseParams(),
	}
}

type paramsFile struct {
	Strategies map[string]yaml.Node `yaml:"strategies"`
}

// LoadParams reads per-strategy overrides from a YAML file, layered on
// top of the defaults. A missing file keeps the defaults.
func LoadParams(path string) (map[string]Params, error) {
	out := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}

	var file paramsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for name, node := range file.Strategies {
		p, ok := out[name]
		if !ok {
			p = baseParams()
		}
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("strategy %s params: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}
