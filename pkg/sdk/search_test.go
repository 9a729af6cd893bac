package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestSearch_DecodesCitedHits(t *testing.T) {
	var gotReq SearchRequest
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			t.Errorf("path = %s, want /api/v1/search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(SearchResponse{
			Items: []SearchHit{{
				DocID:   "unit-9",
				Score:   0.42,
				Source:  "fused",
				Content: "func Load() {}",
				Citation: Citation{
					Path:      "internal/config/config.go",
					StartLine: 100,
					EndLine:   130,
					Commit:    "abc123",
				},
			}},
			Total:       1,
			Mode:        "hybrid",
			Tokens:      9,
			Diagnostics: Diagnostics{LexicalCount: 12, VectorCount: 8, KConst: 60},
		})
	})

	resp, err := client.Search(context.Background(), SearchRequest{
		Query:  "config loading",
		RepoID: "payments",
		TopN:   5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq.Query != "config loading" || gotReq.RepoID != "payments" || gotReq.TopN != 5 {
		t.Errorf("request = %+v", gotReq)
	}
	if resp.Mode != "hybrid" || resp.Tokens != 9 || resp.Total != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Diagnostics.LexicalCount != 12 || resp.Diagnostics.KConst != 60 {
		t.Errorf("diagnostics = %+v", resp.Diagnostics)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
	hit := resp.Items[0]
	if hit.Citation.Path != "internal/config/config.go" || hit.Citation.StartLine != 100 {
		t.Errorf("citation = %+v", hit.Citation)
	}
	if hit.Source != "fused" || hit.Score != 0.42 {
		t.Errorf("hit = %+v", hit)
	}
}

func TestSearch_Unavailable(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "search_unavailable",
			"message": "Search is temporarily unavailable",
		})
	})

	_, err := client.Search(context.Background(), SearchRequest{Query: "q", RepoID: "r"})
	if !IsUnavailable(err) {
		t.Errorf("IsUnavailable = false for %v", err)
	}
}
