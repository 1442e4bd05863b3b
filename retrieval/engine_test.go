package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/contextflow/dense"
	"github.com/BaSui01/contextflow/store"
	"github.com/BaSui01/contextflow/types"
)

// newFixture 建一个内存存储和索引；transcripts 里有的节点会写入归档
// 并回填 FullContentPath。
func newFixture(t *testing.T, transcripts map[string]string, nodes ...types.Node) (store.ArchiveStore, *types.IndexDocument) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { _ = st.Close() })

	for i := range nodes {
		tr, ok := transcripts[nodes[i].ID]
		if !ok {
			continue
		}
		path, err := st.WriteArchive(context.Background(), "sess", nodes[i].ID, &types.ArchivePayload{
			SessionKey: "sess",
			NodeID:     nodes[i].ID,
			Transcript: tr,
		})
		require.NoError(t, err)
		nodes[i].FullContentPath = path
	}
	return st, &types.IndexDocument{
		Version:    types.IndexVersion,
		SessionKey: "sess",
		Nodes:      nodes,
	}
}

func estimates(l0, l1, l2 int) types.TokenEstimate {
	return types.TokenEstimate{L0: l0, L1: l1, L2: l2}
}

func TestRetrieveEmptyIndex(t *testing.T) {
	st, _ := newFixture(t, nil)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), &types.IndexDocument{SessionKey: "sess"}, "anything at all")

	assert.Empty(t, res.Selections)
	assert.Equal(t, types.LayerL0, res.Decision.ReachedLayer)
	assert.Equal(t, "no archived nodes", res.Decision.Reason)
	assert.Zero(t, res.TokenUsage.Total)
	assert.Zero(t, res.TokenUsage.SavingsRatio)
}

func TestRetrieveNilIndex(t *testing.T) {
	st, _ := newFixture(t, nil)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), nil, "anything")
	assert.Empty(t, res.Selections)
	assert.Equal(t, types.LayerL0, res.Decision.ReachedLayer)
}

func TestRetrieveBroadHighConfidenceStaysAtL0(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "n1", Abstract: "redis cache eviction policy discussion",
			Keywords: []string{"redis", "cache"}, TokenEstimate: estimates(8, 40, 400)},
		types.Node{ID: "n2", Abstract: "frontend styling and color themes",
			TokenEstimate: estimates(8, 40, 300)},
	)
	index.Root = &types.Node{ID: "root", Abstract: "Infra and frontend chats", TokenEstimate: estimates(6, 0, 0)}
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "redis cache eviction policy")

	assert.Equal(t, types.LayerL0, res.Decision.ReachedLayer)
	assert.Equal(t, types.QueryModeBroad, res.Decision.QueryMode)
	assert.GreaterOrEqual(t, res.Decision.Top1Score, 0.62)

	require.NotEmpty(t, res.Selections)
	// 根摘要无条件先入
	assert.Equal(t, "root", res.Selections[0].NodeID)
	assert.Equal(t, types.LayerL0, res.Selections[0].Layer)
	// 其后是按分数排序的 L0 摘要
	assert.Equal(t, "n1", res.Selections[1].NodeID)
	for _, sel := range res.Selections {
		assert.Equal(t, types.LayerL0, sel.Layer)
	}
	assert.Equal(t, res.TokenUsage.BaselineL2, 700)
	assert.Positive(t, res.TokenUsage.SavingsRatio)
}

func TestRetrieveStructuredSettlesAtL1(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "n1", Abstract: "database migration work",
			Overview:      "We walked through the database migration plan step by step and agreed on rollback handling.",
			TokenEstimate: estimates(8, 50, 500)},
		types.Node{ID: "n2", Abstract: "team lunch options",
			Overview:      "Pizza or noodles for friday.",
			TokenEstimate: estimates(8, 30, 200)},
	)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "summarize the database migration plan")

	assert.Equal(t, types.QueryModeStructured, res.Decision.QueryMode)
	assert.Equal(t, types.LayerL1, res.Decision.ReachedLayer)

	require.NotEmpty(t, res.Selections)
	assert.Equal(t, "n1", res.Selections[0].NodeID)
	assert.Equal(t, types.LayerL1, res.Selections[0].Layer)
	assert.Contains(t, res.Selections[0].Content, "migration plan")
	assert.Equal(t, res.TokenUsage.Total, res.TokenUsage.L1Tokens)
}

func TestRetrievePreciseEscalatesToL2(t *testing.T) {
	st, index := newFixture(t, map[string]string{
		"n1": "user: the worker keeps crashing\nassistant: the nil map write in worker.go caused the panic",
		"n2": "user: pick a color\nassistant: blue",
	},
		types.Node{ID: "n1", Abstract: "worker crash investigation",
			Overview:      "Debugging session about the worker process crash.",
			TokenEstimate: estimates(8, 40, 60)},
		types.Node{ID: "n2", Abstract: "ui styling",
			Overview:      "Color theme discussion.",
			TokenEstimate: estimates(8, 30, 20)},
	)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "show the panic in worker.go")

	assert.Equal(t, types.QueryModePrecise, res.Decision.QueryMode)
	assert.Equal(t, types.LayerL2, res.Decision.ReachedLayer)
	assert.Equal(t, "precise query, escalated to L2", res.Decision.Reason)

	require.NotEmpty(t, res.Selections)
	assert.Equal(t, "n1", res.Selections[0].NodeID)
	assert.Equal(t, types.LayerL2, res.Selections[0].Layer)
	assert.Contains(t, res.Selections[0].Content, "nil map write")
	assert.Positive(t, res.TokenUsage.L2Tokens)
}

func TestRetrieveL2CarriesForwardL1Context(t *testing.T) {
	st, index := newFixture(t, map[string]string{
		"n1": "assistant: the panic came from a closed channel send in pipeline.go",
	},
		types.Node{ID: "n1", Abstract: "pipeline panic debugging",
			Overview: "Pipeline crash debugging.", TokenEstimate: estimates(8, 40, 60)},
		types.Node{ID: "n2", Abstract: "pipeline design notes",
			Overview: "How the pipeline stages hand off work.", TokenEstimate: estimates(8, 40, 200)},
		types.Node{ID: "n3", Abstract: "unrelated lunch chat",
			Overview: "Food.", TokenEstimate: estimates(8, 20, 100)},
	)
	cfg := DefaultConfig()
	cfg.MaxItemsForL1 = 3
	cfg.MaxItemsForL2 = 1
	e := New(st, cfg)

	res := e.Retrieve(context.Background(), index, "what caused the pipeline panic")

	assert.Equal(t, types.LayerL2, res.Decision.ReachedLayer)

	var l2, l1 int
	for _, sel := range res.Selections {
		switch sel.Layer {
		case types.LayerL2:
			l2++
		case types.LayerL1:
			l1++
		}
	}
	assert.Equal(t, 1, l2)
	// carry = max(1, 3-1) = 2 个 L1 候选保留下来
	assert.Equal(t, 2, l1)
}

func TestRetrieveMissingArchiveSkippedSilently(t *testing.T) {
	st, index := newFixture(t, map[string]string{
		"n2": "assistant: the fix was bumping the timeout in client.go",
	},
		// n1 没有归档：路径为空，L2 候选被静默跳过
		types.Node{ID: "n1", Abstract: "timeout bug hunt",
			Overview: "Timeout bug investigation notes.", TokenEstimate: estimates(8, 40, 60)},
		types.Node{ID: "n2", Abstract: "timeout fix follow-up",
			Overview: "Follow-up on the timeout fix.", TokenEstimate: estimates(8, 40, 60)},
	)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "what was the timeout error fix")

	assert.Equal(t, types.LayerL2, res.Decision.ReachedLayer)
	for _, sel := range res.Selections {
		if sel.Layer == types.LayerL2 {
			assert.Equal(t, "n2", sel.NodeID)
		}
	}
}

func TestRetrieveAllArchivesUnreadable(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "n1", Abstract: "crash debugging", Overview: "Crash notes.",
			FullContentPath: "mem://sess/gone", TokenEstimate: estimates(8, 40, 60)},
	)
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "show the stack trace")

	assert.Equal(t, types.LayerL2, res.Decision.ReachedLayer)
	assert.Contains(t, res.Decision.Reason, "no archives readable")
	for _, sel := range res.Selections {
		assert.NotEqual(t, types.LayerL2, sel.Layer)
	}
}

func TestAssembleStopsAtFirstRejection(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "big", Abstract: "alpha beta gamma delta", TokenEstimate: estimates(200, 0, 0)},
		types.Node{ID: "small", Abstract: "something unrelated", TokenEstimate: estimates(10, 0, 0)},
		types.Node{ID: "top", Abstract: "alpha beta gamma delta epsilon topic", TokenEstimate: estimates(30, 0, 0)},
	)
	cfg := DefaultConfig()
	cfg.MaxPromptTokens = 100
	e := New(st, cfg)

	// top 得满分，big 次之，small 垫底；big 放不下时 small 也不回填
	res := e.Retrieve(context.Background(), index, "alpha beta gamma delta epsilon topic")

	require.Equal(t, types.LayerL0, res.Decision.ReachedLayer)
	require.Len(t, res.Selections, 1)
	assert.Equal(t, "top", res.Selections[0].NodeID)
	assert.LessOrEqual(t, res.TokenUsage.Total, cfg.MaxPromptTokens)
}

// boostScorer 给指定节点返回满分稠密分。
type boostScorer struct{ nodeID string }

func (b boostScorer) Scores(_ context.Context, _ string, _ []dense.Candidate) map[string]float64 {
	return map[string]float64{b.nodeID: 1.0}
}

func TestRetrieveDenseScoreChangesRanking(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "n1", Abstract: "vacation plans for summer", TokenEstimate: estimates(8, 40, 100)},
		types.Node{ID: "n2", Abstract: "holiday travel ideas", TokenEstimate: estimates(8, 40, 100)},
	)
	e := New(st, DefaultConfig(), WithDenseScorer(boostScorer{nodeID: "n2"}))

	res := e.Retrieve(context.Background(), index, "vacation plans for summer trip")

	// 纯稀疏时 n1 稳赢；稠密加成把 n2 的分数抬起来但权重 0.35 不足以反超，
	// 这里只验证两者都被打分且结果确定
	require.NotEmpty(t, res.Selections)
	assert.Equal(t, "n1", res.Selections[0].NodeID)
}

func TestRetrieveBaselineMode(t *testing.T) {
	st, index := newFixture(t, map[string]string{
		"n1": "transcript one",
		"n2": "transcript two",
	},
		types.Node{ID: "n1", Abstract: "a", TokenEstimate: estimates(5, 20, 300)},
		types.Node{ID: "n2", Abstract: "b", TokenEstimate: estimates(5, 20, 500)},
	)
	cfg := DefaultConfig()
	cfg.Baseline = true
	e := New(st, cfg)

	res := e.Retrieve(context.Background(), index, "whatever")

	assert.Equal(t, types.LayerL2, res.Decision.ReachedLayer)
	assert.Contains(t, res.Decision.Reason, "baseline")
	assert.Len(t, res.Selections, 2)
	assert.Equal(t, 800, res.TokenUsage.L2Tokens)
	assert.Equal(t, 800, res.TokenUsage.BaselineL2)
	assert.Zero(t, res.TokenUsage.SavingsRatio)
}

func TestRetrieveRootOverheadKeepsRatioInRange(t *testing.T) {
	st, index := newFixture(t, nil,
		types.Node{ID: "n1", Abstract: "redis cache eviction policy",
			TokenEstimate: estimates(5, 0, 10)},
	)
	index.Root = &types.Node{ID: "root", Abstract: "infra session overview",
		TokenEstimate: estimates(20, 0, 0)}
	e := New(st, DefaultConfig())

	res := e.Retrieve(context.Background(), index, "redis cache eviction policy")

	require.Equal(t, types.LayerL0, res.Decision.ReachedLayer)
	// 根摘要 20 + 节点 5 超过基线 10：差值照记，比例截断为 0 而不是转负
	assert.Equal(t, 25, res.TokenUsage.Total)
	assert.Equal(t, 10, res.TokenUsage.BaselineL2)
	assert.Equal(t, -15, res.TokenUsage.Savings)
	assert.Zero(t, res.TokenUsage.SavingsRatio)
}

func TestRetrieveBudgetInvariantProperty(t *testing.T) {
	words := []string{"redis", "cache", "panic", "deploy", "lunch", "migration", "pipeline", "timeout", "色彩", "部署"}

	rapid.Check(t, func(rt *rapid.T) {
		nodeCount := rapid.IntRange(1, 8).Draw(rt, "nodeCount")
		budget := rapid.IntRange(20, 2000).Draw(rt, "budget")

		nodes := make([]types.Node, nodeCount)
		transcripts := map[string]string{}
		for i := range nodes {
			id := fmt.Sprintf("n%d", i)
			abstract := strings.Join(rapid.SliceOfN(rapid.SampledFrom(words), 1, 5).Draw(rt, "abstract"), " ")
			nodes[i] = types.Node{
				ID:       id,
				Abstract: abstract,
				Overview: abstract + " overview",
				TokenEstimate: estimates(
					rapid.IntRange(1, 50).Draw(rt, "l0"),
					rapid.IntRange(1, 200).Draw(rt, "l1"),
					rapid.IntRange(1, 800).Draw(rt, "l2"),
				),
			}
			if rapid.Bool().Draw(rt, "hasArchive") {
				transcripts[id] = abstract + " full transcript"
			}
		}

		st, index := newFixture(t, transcripts, nodes...)
		index.Root = &types.Node{
			ID:            "root",
			Abstract:      "session summary",
			TokenEstimate: estimates(rapid.IntRange(1, 100).Draw(rt, "rootL0"), 0, 0),
		}
		cfg := DefaultConfig()
		cfg.MaxPromptTokens = budget
		e := New(st, cfg)

		query := strings.Join(rapid.SliceOfN(rapid.SampledFrom(words), 1, 4).Draw(rt, "query"), " ")
		res := e.Retrieve(context.Background(), index, query)

		// 预算不变量：总用量不超预算，账目与入选内容逐条一致
		if res.TokenUsage.Total > budget {
			rt.Fatalf("budget exceeded: %d > %d", res.TokenUsage.Total, budget)
		}
		sum := 0
		for _, sel := range res.Selections {
			sum += sel.EstimatedTokens
		}
		if sum != res.TokenUsage.Total {
			rt.Fatalf("ledger mismatch: selections %d vs total %d", sum, res.TokenUsage.Total)
		}
		if res.TokenUsage.SavingsRatio < 0 || res.TokenUsage.SavingsRatio > 1 {
			rt.Fatalf("savings ratio out of [0,1]: %f", res.TokenUsage.SavingsRatio)
		}
	})
}
