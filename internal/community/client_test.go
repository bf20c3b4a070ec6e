package community

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("submolt") != "builders" {
			t.Errorf("submolt = %q", r.URL.Query().Get("submolt"))
		}
		w.Write([]byte(`{"posts":[{"id":"c1","title":"t","content":"long content","author":{"name":"Bob","description":"autonomous agent"}}]}`))
	})
	mux.HandleFunc("/posts/c1/comments", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"comment":{"id":"cm1"},"verification":{"code":"v1","challenge":"thirty two plus seven"}}`))
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		ok := body["verification_code"] == "v1" && body["answer"] == "39.00"
		json.NewEncoder(w).Encode(map[string]any{"success": ok, "error": "wrong answer"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ListPosts(t *testing.T) {
	c := NewClient(newTestServer(t).URL, "key")
	posts, err := c.ListPosts(context.Background(), "builders", 25)
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(posts) != 1 || posts[0].Author != "Bob" || posts[0].AuthorBio != "autonomous agent" {
		t.Fatalf("ListPosts() = %+v", posts)
	}
}

func TestClient_CommentAndVerify(t *testing.T) {
	c := NewClient(newTestServer(t).URL, "key")
	ctx := context.Background()

	receipt, err := c.CreateComment(ctx, "c1", "nice work")
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if receipt.Verification == nil || receipt.Verification.Code != "v1" {
		t.Fatalf("receipt = %+v, want verification", receipt)
	}
	if err := c.Verify(ctx, "v1", "39.00"); err != nil {
		t.Errorf("Verify(correct) error = %v", err)
	}
	if err := c.Verify(ctx, "v1", "40.00"); err == nil {
		t.Error("Verify(wrong) error = nil, want rejection")
	}
}
