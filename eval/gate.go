package eval

import "fmt"

// GateThresholds 门禁的四个阈值。
type GateThresholds struct {
	// MinSavings 平均节省比例下限。
	MinSavings float64 `yaml:"min_savings" json:"min_savings"`
	// MaxRecallDrop 允许的平均召回下降上限（delta ≥ -MaxRecallDrop 通过）。
	MaxRecallDrop float64 `yaml:"max_recall_drop" json:"max_recall_drop"`
	// MaxInformationLoss 信息丢失率上限。
	MaxInformationLoss float64 `yaml:"max_information_loss" json:"max_information_loss"`
	// MinLayerAdequacy 层级充分率下限。
	MinLayerAdequacy float64 `yaml:"min_layer_adequacy" json:"min_layer_adequacy"`
}

// DefaultGateThresholds 返回默认门禁阈值。
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		MinSavings:         0.18,
		MaxRecallDrop:      0.03,
		MaxInformationLoss: 0.05,
		MinLayerAdequacy:   0.80,
	}
}

// Criterion 门禁的一项判据。四项各自独立报告，互不短路。
type Criterion struct {
	Name      string   `json:"name"`
	Passed    bool     `json:"passed"`
	Value     *float64 `json:"value"`
	Threshold float64  `json:"threshold"`
	Detail    string   `json:"detail"`
}

// GateResult 门禁判定：全部判据通过才算通过。
type GateResult struct {
	Passed   bool        `json:"passed"`
	Criteria []Criterion `json:"criteria"`
}

// EvaluateGate 对一次运行汇总做门禁判定。不可用（null）的比率判据
// 自动通过——没有可评估的用例不能算失败。
func EvaluateGate(s *Summary, th GateThresholds) GateResult {
	savings := s.SavingsRatio.Mean
	delta := s.RecallDelta.Mean

	criteria := []Criterion{
		{
			Name:      "token_savings",
			Passed:    savings >= th.MinSavings,
			Value:     &savings,
			Threshold: th.MinSavings,
			Detail:    fmt.Sprintf("mean savings %.4f, need >= %.4f", savings, th.MinSavings),
		},
		{
			Name:      "evidence_recall",
			Passed:    delta >= -th.MaxRecallDrop,
			Value:     &delta,
			Threshold: th.MaxRecallDrop,
			Detail:    fmt.Sprintf("mean recall delta %.4f, need >= %.4f", delta, -th.MaxRecallDrop),
		},
		rateCriterion("information_loss", s.InformationLossRate, th.MaxInformationLoss, false),
		rateCriterion("layer_adequacy", s.LayerAdequacyRate, th.MinLayerAdequacy, true),
	}

	passed := true
	for _, c := range criteria {
		if !c.Passed {
			passed = false
		}
	}
	return GateResult{Passed: passed, Criteria: criteria}
}

// rateCriterion 对可空比率做判据；atLeast 决定方向（≥ 或 ≤）。
func rateCriterion(name string, rate *float64, threshold float64, atLeast bool) Criterion {
	c := Criterion{Name: name, Threshold: threshold, Value: rate}
	if rate == nil {
		c.Passed = true
		c.Detail = "no applicable cases, automatic pass"
		return c
	}
	if atLeast {
		c.Passed = *rate >= threshold
		c.Detail = fmt.Sprintf("rate %.4f, need >= %.4f", *rate, threshold)
	} else {
		c.Passed = *rate <= threshold
		c.Detail = fmt.Sprintf("rate %.4f, need <= %.4f", *rate, threshold)
	}
	return c
}
