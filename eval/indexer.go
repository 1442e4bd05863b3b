package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/contextflow/store"
	"github.com/BaSui01/contextflow/textsim"
	"github.com/BaSui01/contextflow/tokenizer"
	"github.com/BaSui01/contextflow/types"
)

const (
	defaultChunkMessages = 6
	abstractClip         = 120
	overviewClip         = 400
	keywordsPerNode      = 5
)

// Indexer 把一个消息窗口折叠成分层索引：按固定条数切段，每段生成
// L0 摘要+关键词、L1 概述与 L2 全文归档。评测用——生产索引由外部
// 归档流程负责，这里只需要一个行为一致、完全确定性的折叠。
type Indexer struct {
	chunkMessages int
	tok           tokenizer.Tokenizer
}

// NewIndexer 创建评测索引器。chunkMessages 非正时取默认值。
func NewIndexer(chunkMessages int) *Indexer {
	if chunkMessages <= 0 {
		chunkMessages = defaultChunkMessages
	}
	return &Indexer{chunkMessages: chunkMessages, tok: tokenizer.NewEstimator()}
}

// Index 折叠窗口并把每段的全文归档写入 st，返回可检索的索引。
func (ix *Indexer) Index(ctx context.Context, st store.ArchiveStore, sessionKey string, messages []types.Message) (*types.IndexDocument, error) {
	doc := &types.IndexDocument{
		Version:    types.IndexVersion,
		SessionKey: sessionKey,
	}
	if len(messages) == 0 {
		return doc, nil
	}

	for start := 0; start < len(messages); start += ix.chunkMessages {
		end := start + ix.chunkMessages
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]
		nodeID := fmt.Sprintf("seg-%03d", len(doc.Nodes))

		transcript := renderTranscript(chunk)
		abstract := chunkAbstract(chunk)
		overview := clipText(strings.Join(strings.Fields(transcript), " "), overviewClip)
		keywords := topKeywords(transcript, keywordsPerNode)

		path, err := st.WriteArchive(ctx, sessionKey, nodeID, &types.ArchivePayload{
			SessionKey: sessionKey,
			NodeID:     nodeID,
			Transcript: transcript,
			Messages:   chunk,
		})
		if err != nil {
			return nil, fmt.Errorf("archive segment %s: %w", nodeID, err)
		}

		doc.Nodes = append(doc.Nodes, types.Node{
			ID:              nodeID,
			Abstract:        abstract,
			Overview:        overview,
			Keywords:        keywords,
			FullContentPath: path,
			Metadata: types.NodeMetadata{
				MessageStart: start,
				MessageEnd:   end - 1,
			},
			TokenEstimate: types.TokenEstimate{
				L0: ix.count(abstract + " " + strings.Join(keywords, " ")),
				L1: ix.count(overview),
				L2: ix.count(transcript),
			},
		})
	}

	rootAbstract := chunkAbstract(messages)
	doc.Root = &types.Node{
		ID:            "root",
		Abstract:      rootAbstract,
		TokenEstimate: types.TokenEstimate{L0: ix.count(rootAbstract)},
	}
	return doc, nil
}

func (ix *Indexer) count(text string) int {
	n, err := ix.tok.CountTokens(text)
	if err != nil || n <= 0 {
		return tokenizer.EstimateText(text)
	}
	return n
}

func renderTranscript(chunk []types.Message) string {
	var sb strings.Builder
	for _, m := range chunk {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// chunkAbstract 取段内第一条用户消息做摘要；没有用户消息就取第一条。
func chunkAbstract(chunk []types.Message) string {
	for _, m := range chunk {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return clipText(strings.Join(strings.Fields(m.Content), " "), abstractClip)
		}
	}
	for _, m := range chunk {
		if strings.TrimSpace(m.Content) != "" {
			return clipText(strings.Join(strings.Fields(m.Content), " "), abstractClip)
		}
	}
	return ""
}

func topKeywords(text string, n int) []string {
	freq := map[string]int{}
	for _, term := range textsim.Tokenize(text) {
		if len(term) < 3 {
			continue
		}
		freq[term]++
	}
	type kv struct {
		term  string
		count int
	}
	ranked := make([]kv, 0, len(freq))
	for t, c := range freq {
		ranked = append(ranked, kv{t, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.term)
	}
	return out
}

func clipText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && s[limit]&0xC0 == 0x80 {
		limit--
	}
	return s[:limit]
}
