package types

// TopicMode is the caller-owned conversation mode the transition engine
// advises on. The engine never mutates it.
type TopicMode string

const (
	// TopicModeMain 主话题模式：使用归档索引。
	TopicModeMain TopicMode = "MAIN"
	// TopicModeTemp 临时话题模式：使用一次性的旁路缓冲。
	TopicModeTemp TopicMode = "TEMP"
)

// TopicDecision 是话题状态机的五种迁移决策之一。
type TopicDecision string

const (
	TopicStayMain    TopicDecision = "stay-main"
	TopicEnterTemp   TopicDecision = "enter-temp"
	TopicStayTemp    TopicDecision = "stay-temp"
	TopicReplaceTemp TopicDecision = "replace-temp"
	TopicExitTemp    TopicDecision = "exit-temp"
)

// TopicTransition 是每条查询计算一次的瞬时决策。
// RelMain/RelTemp 已被截断到 [0,1]。
type TopicTransition struct {
	Decision TopicDecision `json:"decision"`
	RelMain  float64       `json:"rel_main"`
	RelTemp  float64       `json:"rel_temp"`
}
