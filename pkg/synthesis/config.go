package synthesis

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config 合成引擎的可调常量
// 边界值 (闪电变化倍数、BFS深度等) 是经验常量而非规范值，全部可配置
type Config struct {
	MaxPropagationDepth     int     `yaml:"max_propagation_depth"`     // 跨合约BFS跳数上限
	FlashChangeMultiplier   float64 `yaml:"flash_change_multiplier"`   // flash_change的最小变化率倍数
	SwapCallMinimum         int     `yaml:"swap_call_minimum"`         // 价格操纵判定的最少swap调用数
	RatioBreakDeviation     float64 `yaml:"ratio_break_deviation"`     // 配对比率容忍偏离
	MassiveTransferFraction float64 `yaml:"massive_transfer_fraction"` // 大额转账的供应量占比
	ScoreEpsilon            float64 `yaml:"score_epsilon"`             // 协议评分的决胜分差
	Workers                 int     `yaml:"workers"`                   // 并行运行的worker数
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxPropagationDepth:     3,
		FlashChangeMultiplier:   10.0,
		SwapCallMinimum:         3,
		RatioBreakDeviation:     0.2,
		MassiveTransferFraction: 0.1,
		ScoreEpsilon:            0.05,
		Workers:                 4,
	}
}

// LoadConfig 从YAML文件加载配置，缺失字段回填默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults 用默认值补齐未设置的字段
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.MaxPropagationDepth <= 0 {
		c.MaxPropagationDepth = def.MaxPropagationDepth
	}
	if c.FlashChangeMultiplier <= 0 {
		c.FlashChangeMultiplier = def.FlashChangeMultiplier
	}
	if c.SwapCallMinimum <= 0 {
		c.SwapCallMinimum = def.SwapCallMinimum
	}
	if c.RatioBreakDeviation <= 0 {
		c.RatioBreakDeviation = def.RatioBreakDeviation
	}
	if c.MassiveTransferFraction <= 0 {
		c.MassiveTransferFraction = def.MassiveTransferFraction
	}
	if c.ScoreEpsilon <= 0 {
		c.ScoreEpsilon = def.ScoreEpsilon
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
}
