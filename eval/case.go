// Package eval 是离线的评测与门禁工具链：构建数据集、以基线/候选两种
// 配置回放检索引擎、汇总统计（含 bootstrap 置信区间）并产出 CI 可消费
// 的通过/失败判定。与引擎本体不同，这里的输入错误允许直接致命——
// 工具链只在离线运行。
package eval

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/contextflow/types"
)

// 数据集装载错误。装载错误都是致命的：宁可让 CI 失败也不要在
// 残缺数据集上得出统计结论。
var (
	ErrEmptyDataset = errors.New("dataset has zero cases")
	ErrDuplicateID  = errors.New("duplicate case id")
	ErrInvalidCase  = errors.New("invalid case")
)

// CaseLabels 一条评测用例的标注。
type CaseLabels struct {
	// ExpectedEvidence 期望出现在上下文里的字面证据串。
	ExpectedEvidence []string `json:"expectedEvidence,omitempty"`
	// ExpectedLayerMin 回答该查询至少需要的层级。
	ExpectedLayerMin types.Layer `json:"expectedLayerMin,omitempty"`
	ReferenceAnswer  string      `json:"referenceAnswer,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
}

// EvalCase 一条评测用例：一个对话窗口加一条查询。
type EvalCase struct {
	ID       string          `json:"id"`
	Query    string          `json:"query"`
	Messages []types.Message `json:"messages"`
	Platform string          `json:"platform,omitempty"`
	ChatID   string          `json:"chatId,omitempty"`
	Labels   CaseLabels      `json:"labels"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (c *EvalCase) validate(line int) error {
	switch {
	case strings.TrimSpace(c.ID) == "":
		return fmt.Errorf("%w: line %d: missing id", ErrInvalidCase, line)
	case strings.TrimSpace(c.Query) == "":
		return fmt.Errorf("%w: line %d (case %q): missing query", ErrInvalidCase, line, c.ID)
	case len(c.Messages) == 0:
		return fmt.Errorf("%w: line %d (case %q): empty messages", ErrInvalidCase, line, c.ID)
	}
	return nil
}

// LoadDataset 从 JSONL 文件装载评测用例。重复 id、缺字段、空数据集
// 都返回错误并指明出错的行。
func LoadDataset(path string) ([]EvalCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	var cases []EvalCase
	seen := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var c EvalCase
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCase, line, err)
		}
		if err := c.validate(line); err != nil {
			return nil, err
		}
		if prev, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: %q at lines %d and %d", ErrDuplicateID, c.ID, prev, line)
		}
		seen[c.ID] = line
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(cases) == 0 {
		return nil, ErrEmptyDataset
	}
	return cases, nil
}

// WriteDataset 把用例写成 JSONL。
func WriteDataset(path string, cases []EvalCase) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range cases {
		if err := enc.Encode(&cases[i]); err != nil {
			return fmt.Errorf("encode case %q: %w", cases[i].ID, err)
		}
	}
	return w.Flush()
}
