package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parapr/parapr/internal/config"
	"github.com/parapr/parapr/internal/errors"
)

// oracleServer returns an httptest server that replies with the given
// verdict payload wrapped in a chat completion envelope.
func oracleServer(t *testing.T, verdict oracleVerdict) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, _ := json.Marshal(verdict)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": string(content)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testConfig(endpoint string) config.ClassifierConfig {
	cfg := config.Default().Classifier
	cfg.Endpoint = endpoint
	cfg.TimeoutSeconds = 3
	return cfg
}

func TestOracleGateway_VerdictFolding(t *testing.T) {
	tests := []struct {
		name    string
		verdict oracleVerdict
		want    Verdict
	}{
		{"unsafe blocks", oracleVerdict{SafeToContinue: false, NeedsClarification: false, Reason: "rm -rf"}, VerdictBlocked},
		{"unsafe wins over clarification", oracleVerdict{SafeToContinue: false, NeedsClarification: true}, VerdictBlocked},
		{"clarification needs human", oracleVerdict{SafeToContinue: true, NeedsClarification: true}, VerdictNeedsAttention},
		{"safe and clear auto-accepts", oracleVerdict{SafeToContinue: true, NeedsClarification: false}, VerdictAutoAccept},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := oracleServer(t, tt.verdict)
			defer srv.Close()

			gw := NewOracleGateway(testConfig(srv.URL))
			res, err := gw.Classify(context.Background(), "some prompt")
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if res.Verdict != tt.want {
				t.Errorf("verdict = %v, want %v", res.Verdict, tt.want)
			}
			if res.Source != SourceOracle {
				t.Errorf("source = %v, want oracle", res.Source)
			}
		})
	}
}

func TestOracleGateway_SendsAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		content, _ := json.Marshal(oracleVerdict{SafeToContinue: true})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}},
		})
	}))
	defer srv.Close()

	t.Setenv("PARAPR_ORACLE_API_KEY", "sk-oracle-1")
	gw := NewOracleGateway(testConfig(srv.URL))
	if _, err := gw.Classify(context.Background(), "prompt"); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if gotAuth != "Bearer sk-oracle-1" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestOracleGateway_TimeoutIsTimeoutError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	gw := NewOracleGateway(testConfig(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.Classify(ctx, "prompt")
	if !errors.Is(err, errors.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, errors.ErrGatewayDegraded) {
		t.Errorf("timeout should still degrade the gateway, got %v", err)
	}
}

func TestOracleGateway_Non2xxDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewOracleGateway(testConfig(srv.URL))
	_, err := gw.Classify(context.Background(), "prompt")
	if !errors.Is(err, errors.ErrGatewayDegraded) {
		t.Errorf("expected ErrGatewayDegraded, got %v", err)
	}
}

func TestOracleGateway_MalformedDegrades(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>gateway error</html>"))
		}))
		defer srv.Close()

		gw := NewOracleGateway(testConfig(srv.URL))
		if _, err := gw.Classify(context.Background(), "prompt"); !errors.Is(err, errors.ErrGatewayDegraded) {
			t.Errorf("expected ErrGatewayDegraded, got %v", err)
		}
	})

	t.Run("verdict not json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"content": "I think it is fine"}}},
			})
		}))
		defer srv.Close()

		gw := NewOracleGateway(testConfig(srv.URL))
		if _, err := gw.Classify(context.Background(), "prompt"); !errors.Is(err, errors.ErrGatewayDegraded) {
			t.Errorf("expected ErrGatewayDegraded, got %v", err)
		}
	})
}

func TestOracleGateway_TimeoutDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	gw := NewOracleGateway(cfg)
	gw.client.Timeout = 50 * time.Millisecond

	_, err := gw.Classify(context.Background(), "prompt")
	if !errors.Is(err, errors.ErrGatewayDegraded) {
		t.Errorf("expected ErrGatewayDegraded on timeout, got %v", err)
	}
}

func TestClassifierWithRealGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	gw := NewOracleGateway(testConfig(srv.URL))
	gw.client.Timeout = 50 * time.Millisecond

	c := New(gw, 2, nil)
	res := c.Classify(context.Background(), "eng-1", "fp-slow", "Reticulate the splines now?")
	if res.Verdict != VerdictNeedsAttention || res.Source != SourceDegraded {
		t.Errorf("timeout should degrade to needs-attention, got %+v", res)
	}
}
