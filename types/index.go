package types

import "time"

// IndexVersion is the only index document version this engine understands.
// Loaders must treat any other version as an absent index.
const IndexVersion = 1

// Layer 表示上下文的分辨率层级。
type Layer string

const (
	// LayerL0 指纹层：单句摘要 + 关键词。
	LayerL0 Layer = "L0"
	// LayerL1 概览层：一段话的主题概述。
	LayerL1 Layer = "L1"
	// LayerL2 全文层：完整的对话转录，按需从归档文件加载。
	LayerL2 Layer = "L2"
)

// Rank returns the numeric ordering of a layer (L0=0, L1=1, L2=2).
// Unknown layers rank below L0 so comparisons fail closed.
func (l Layer) Rank() int {
	switch l {
	case LayerL0:
		return 0
	case LayerL1:
		return 1
	case LayerL2:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether l is the same or a higher resolution than other.
func (l Layer) AtLeast(other Layer) bool {
	return l.Rank() >= other.Rank()
}

// TokenEstimate 记录一个节点在三个层级展开时的 token 成本。
// 三个值由归档流程写入，检索引擎只读不重算；l0 ≤ l1 ≤ l2 是预期
// 而非强制，违反时按原值使用。
type TokenEstimate struct {
	L0 int `json:"l0"`
	L1 int `json:"l1"`
	L2 int `json:"l2"`
}

// ForLayer returns the estimate for the given layer.
func (e TokenEstimate) ForLayer(l Layer) int {
	switch l {
	case LayerL1:
		return e.L1
	case LayerL2:
		return e.L2
	default:
		return e.L0
	}
}

// NodeMetadata 描述节点来源：平台、会话、消息区间与新近度排名。
type NodeMetadata struct {
	Platform     string `json:"platform,omitempty"`
	ChatID       string `json:"chat_id,omitempty"`
	MessageStart int    `json:"message_start,omitempty"`
	MessageEnd   int    `json:"message_end,omitempty"`
	RecencyRank  int    `json:"recency_rank,omitempty"`
}

// Node 是索引中的一个归档单元，同一会话内 ID 唯一。
type Node struct {
	ID              string        `json:"id"`
	ParentID        string        `json:"parent_id,omitempty"`
	Abstract        string        `json:"abstract"`
	Overview        string        `json:"overview"`
	FullContentPath string        `json:"full_content_path,omitempty"`
	Keywords        []string      `json:"keywords,omitempty"`
	Checksum        string        `json:"checksum,omitempty"`
	Metadata        NodeMetadata  `json:"metadata"`
	TokenEstimate   TokenEstimate `json:"token_estimate"`
}

// IndexDocument 是一个会话的分层索引，由归档流程写入、检索引擎只读。
type IndexDocument struct {
	Version    int       `json:"version"`
	SessionKey string    `json:"session_key"`
	Root       *Node     `json:"root,omitempty"`
	Nodes      []Node    `json:"nodes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BaselineL2Tokens 返回不做任何压缩、全部节点按 L2 展开的 token 总量。
func (d *IndexDocument) BaselineL2Tokens() int {
	if d == nil {
		return 0
	}
	total := 0
	for i := range d.Nodes {
		total += d.Nodes[i].TokenEstimate.L2
	}
	return total
}

// Message is one role/content pair inside an archived transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ArchivePayload 是一个节点的 L2 全文归档，按 nodeId 内容寻址。
type ArchivePayload struct {
	SessionKey string    `json:"session_key"`
	NodeID     string    `json:"node_id"`
	Transcript string    `json:"transcript"`
	Messages   []Message `json:"messages"`
	CreatedAt  time.Time `json:"created_at"`
}
