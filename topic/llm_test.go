package topic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/contextflow/types"
)

func chatServer(t *testing.T, reply string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestNumericScorer(t *testing.T) {
	t.Run("parses scores", func(t *testing.T) {
		srv := chatServer(t, `{"rel_main": 0.7, "rel_temp": 0.2}`)
		defer srv.Close()

		s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
		rel := s.Relevance(context.Background(), "q", "main", "temp")
		assert.Equal(t, 0.7, rel.Main)
		assert.Equal(t, 0.2, rel.Temp)
	})

	t.Run("tolerates prose around json", func(t *testing.T) {
		srv := chatServer(t, "判定结果如下：{\"rel_main\": 0.4, \"rel_temp\": 0.9} 希望有帮助")
		defer srv.Close()

		s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
		rel := s.Relevance(context.Background(), "q", "main", "temp")
		assert.Equal(t, 0.4, rel.Main)
		assert.Equal(t, 0.9, rel.Temp)
	})

	t.Run("clamps out of range scores", func(t *testing.T) {
		srv := chatServer(t, `{"rel_main": 1.7, "rel_temp": -0.2}`)
		defer srv.Close()

		s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
		rel := s.Relevance(context.Background(), "q", "main", "temp")
		assert.Equal(t, 1.0, rel.Main)
		assert.Equal(t, 0.0, rel.Temp)
	})

	t.Run("fails open", func(t *testing.T) {
		for name, scorer := range map[string]*NumericScorer{
			"unconfigured": NewNumericScorer(LLMConfig{}, nil),
		} {
			t.Run(name, func(t *testing.T) {
				assert.Equal(t, failOpen, scorer.Relevance(context.Background(), "q", "m", "t"))
			})
		}

		t.Run("non-2xx", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer srv.Close()
			s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "k"}, nil)
			assert.Equal(t, failOpen, s.Relevance(context.Background(), "q", "m", "t"))
		})

		t.Run("unparseable reply", func(t *testing.T) {
			srv := chatServer(t, "sorry I cannot help with that")
			defer srv.Close()
			s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
			assert.Equal(t, failOpen, s.Relevance(context.Background(), "q", "m", "t"))
		})

		t.Run("timeout", func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
				time.Sleep(200 * time.Millisecond)
			}))
			defer srv.Close()
			s := NewNumericScorer(LLMConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 20 * time.Millisecond}, nil)
			assert.Equal(t, failOpen, s.Relevance(context.Background(), "q", "m", "t"))
		})
	})
}

func TestClassifierScorer(t *testing.T) {
	t.Run("maps labels to canonical pairs", func(t *testing.T) {
		for label, want := range classifierPairs {
			srv := chatServer(t, string(label))
			s := NewClassifierScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
			got := s.Relevance(context.Background(), "q", "main", "temp")
			srv.Close()
			assert.Equal(t, want, got, "label %s", label)
		}
	})

	t.Run("trims and lowercases label", func(t *testing.T) {
		srv := chatServer(t, "  Exit-Temp\n")
		defer srv.Close()
		s := NewClassifierScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
		assert.Equal(t, classifierPairs["exit-temp"], s.Relevance(context.Background(), "q", "m", "t"))
	})

	t.Run("unknown label fails open", func(t *testing.T) {
		srv := chatServer(t, "maybe-switch")
		defer srv.Close()
		s := NewClassifierScorer(LLMConfig{BaseURL: srv.URL, APIKey: "test-key"}, nil)
		assert.Equal(t, failOpen, s.Relevance(context.Background(), "q", "m", "t"))
	})
}

// 规范数值对必须让默认阈值下的迁移表复现对应标签。
func TestClassifierPairsRoundTripThroughTransitionTable(t *testing.T) {
	for label, rel := range classifierPairs {
		e := NewEngine(fixedScorer{rel: rel}, DefaultThresholds())

		mode := types.TopicModeMain
		switch label {
		case types.TopicStayTemp, types.TopicReplaceTemp, types.TopicExitTemp:
			mode = types.TopicModeTemp
		}
		got := e.Decide(context.Background(), mode, "q", "main ref", "temp ref")
		assert.Equal(t, label, got.Decision, "pair %+v", rel)
	}
}
