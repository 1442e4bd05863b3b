package eval

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contextflow/types"
)

// msgsForTest 按 role, content 对构造消息，时间戳递增。
func msgsForTest(pairs ...string) []types.Message {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	out := make([]types.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, types.Message{
			Role:      pairs[i],
			Content:   pairs[i+1],
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

// syntheticConversation 造一个带三类锚点的会话：broad、structured、
// precise 各 anchorsPerMode 个。
func syntheticConversation(platform, chatID string, anchorsPerMode int) Conversation {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	var messages []types.Message
	add := func(role, content string) {
		messages = append(messages, types.Message{
			Role:      role,
			Content:   content,
			Timestamp: base.Add(time.Duration(len(messages)) * time.Minute),
		})
	}

	// 够深的历史打底
	for i := 0; i < 4; i++ {
		add("user", fmt.Sprintf("note number %d about the %s rollout", i, chatID))
		add("assistant", fmt.Sprintf("acknowledged item %d", i))
	}

	for k := 0; k < anchorsPerMode; k++ {
		add("user", fmt.Sprintf("tell me about the %s rollout step %d", chatID, k))
		add("assistant", "sure, here is what happened")
		add("user", fmt.Sprintf("give me a summary of sprint %s-%d", chatID, k))
		add("assistant", "the sprint went fine")
		add("user", fmt.Sprintf("why does service %s-%d panic", chatID, k))
		add("assistant", "the crash came from a nil pointer")
	}
	return Conversation{Platform: platform, ChatID: chatID, Messages: messages}
}

func TestBuilderLayerMix(t *testing.T) {
	var conversations []Conversation
	for i := 0; i < 30; i++ {
		conversations = append(conversations, syntheticConversation("telegram", fmt.Sprintf("chat%02d", i), 3))
	}

	b := NewBuilder(BuildConfig{TargetCases: 100, VariantsPerQuery: 1}, nil)
	cases, meta, err := b.Build(conversations)
	require.NoError(t, err)

	counts := map[types.Layer]int{}
	for _, c := range cases {
		counts[c.Labels.ExpectedLayerMin]++
	}
	// 候选充裕时配比精确命中 40/35/25
	assert.Equal(t, 40, counts[types.LayerL0])
	assert.Equal(t, 35, counts[types.LayerL1])
	assert.Equal(t, 25, counts[types.LayerL2])
	assert.Equal(t, 100, meta.SelectedCases)
	assert.GreaterOrEqual(t, meta.Conversations, 10)
}

func TestBuilderDeduplicatesQueries(t *testing.T) {
	conv := syntheticConversation("qq", "dup", 1)
	// 同一查询出现两次（大小写不同）
	conv.Messages = append(conv.Messages,
		types.Message{Role: "user", Content: "TELL ME ABOUT THE dup ROLLOUT STEP 0",
			Timestamp: conv.Messages[len(conv.Messages)-1].Timestamp.Add(time.Minute)},
		types.Message{Role: "assistant", Content: "again",
			Timestamp: conv.Messages[len(conv.Messages)-1].Timestamp.Add(2 * time.Minute)},
	)

	b := NewBuilder(BuildConfig{TargetCases: 50, VariantsPerQuery: 1}, nil)
	cases, _, err := b.Build([]Conversation{conv})
	require.NoError(t, err)

	seen := map[string]int{}
	for _, c := range cases {
		seen[normalizeForMatch(c.Query)]++
	}
	for q, n := range seen {
		assert.Equal(t, 1, n, "query %q selected twice", q)
	}
}

func TestBuilderPerConversationCap(t *testing.T) {
	conversations := []Conversation{
		syntheticConversation("telegram", "busy", 10),
		syntheticConversation("telegram", "quiet", 1),
	}

	b := NewBuilder(BuildConfig{TargetCases: 30, VariantsPerQuery: 1, PerConversationCap: 5, Strict: true}, nil)
	cases, _, err := b.Build(conversations)
	require.NoError(t, err)

	perConv := map[string]int{}
	for _, c := range cases {
		perConv[c.ChatID]++
	}
	for chat, n := range perConv {
		assert.LessOrEqual(t, n, 5, "conversation %s over cap", chat)
	}
	// 严格模式：宁缺毋滥
	assert.Less(t, len(cases), 30)
}

func TestBuilderRelaxedBackfill(t *testing.T) {
	conversations := []Conversation{syntheticConversation("telegram", "only", 6)}

	b := NewBuilder(BuildConfig{TargetCases: 12, VariantsPerQuery: 1, PerConversationCap: 4, Strict: false}, nil)
	cases, meta, err := b.Build(conversations)
	require.NoError(t, err)

	assert.Greater(t, len(cases), 4)
	assert.Contains(t, meta.Warnings, "per-conversation cap relaxed to reach target case count")
}

func TestBuilderEmptyInputFatal(t *testing.T) {
	b := NewBuilder(BuildConfig{}, nil)
	_, _, err := b.Build(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestExtractEvidence(t *testing.T) {
	window := msgsForTest(
		"user", "can you run deploy.sh on the build server",
		"assistant", "done, see https://ci.example.com/build/42 job 1234567 finished",
		"user", "the rollout looked healthy afterwards",
	)

	evidence := extractEvidence(window, "what did we deploy")

	assert.Contains(t, evidence, "deploy.sh")
	assert.Contains(t, evidence, "https://ci.example.com/build/42")
	assert.Contains(t, evidence, "1234567")
	// 查询自身的词不能充当证据
	for _, e := range evidence {
		assert.NotEqual(t, "deploy", e)
		assert.NotEqual(t, "what", e)
	}
	assert.LessOrEqual(t, len(evidence), maxEvidencePerCase)
}

func TestDiversityWarnings(t *testing.T) {
	cases := make([]EvalCase, 10)
	for i := range cases {
		cases[i] = EvalCase{ID: fmt.Sprintf("c%d", i), Platform: "telegram", ChatID: "one"}
	}
	convs := map[string]int{"telegram/one": 8, "telegram/two": 2}

	warnings := diversityWarnings(cases, convs)
	assert.NotEmpty(t, warnings)

	joined := fmt.Sprint(warnings)
	assert.Contains(t, joined, "single platform")
	assert.Contains(t, joined, "more than half")
	// 只有两个会话
	assert.Contains(t, joined, "conversation")
}
