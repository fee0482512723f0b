package book_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/picturebook/internal/defra"
)

var (
	createRe = regexp.MustCompile(`create_Story\(input: (\{.*\})\) \{`)
	updateRe = regexp.MustCompile(`update_Story\(docID: "([^"]+)", input: (\{.*\})\) \{`)
)

// fakeDefra answers the handful of GraphQL shapes the Story store sends.
type fakeDefra struct {
	mu   sync.Mutex
	next int
	docs map[string]map[string]any
}

func newFakeDefra(t *testing.T) *defra.Client {
	f := &fakeDefra{docs: map[string]map[string]any{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return defra.NewClient(srv.URL)
}

func (f *fakeDefra) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req defra.GQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var data map[string]any
	switch {
	case createRe.MatchString(req.Query):
		input, err := parseInput(createRe.FindStringSubmatch(req.Query)[1])
		if err != nil {
			writeErr(w, err)
			return
		}
		f.next++
		id := fmt.Sprintf("bae-%04d", f.next)
		input["_docID"] = id
		f.docs[id] = input
		data = map[string]any{"create_Story": []any{map[string]any{"_docID": id}}}

	case updateRe.MatchString(req.Query):
		m := updateRe.FindStringSubmatch(req.Query)
		doc, ok := f.docs[m[1]]
		if !ok {
			writeErr(w, fmt.Errorf("document not found"))
			return
		}
		input, err := parseInput(m[2])
		if err != nil {
			writeErr(w, err)
			return
		}
		for k, v := range input {
			doc[k] = v
		}
		data = map[string]any{"update_Story": []any{map[string]any{"_docID": m[1]}}}

	case strings.Contains(req.Query, "filter:"):
		id, _ := req.Variables["v0"].(string)
		docs := []any{}
		if doc, ok := f.docs[id]; ok {
			docs = append(docs, doc)
		}
		data = map[string]any{"Story": docs}

	default:
		docs := []any{}
		for _, doc := range f.docs {
			docs = append(docs, doc)
		}
		data = map[string]any{"Story": docs}
	}

	json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w http.ResponseWriter, err error) {
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []any{map[string]any{"message": err.Error()}},
	})
}

// parseInput decodes `{key: <json>, ...}` as produced by the client.
func parseInput(s string) (map[string]any, error) {
	out := map[string]any{}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	for {
		s = strings.TrimLeft(s, ", ")
		if s == "" {
			return out, nil
		}
		colon := strings.Index(s, ":")
		if colon < 0 {
			return nil, fmt.Errorf("bad input near %q", s)
		}
		key := strings.TrimSpace(s[:colon])
		dec := json.NewDecoder(strings.NewReader(s[colon+1:]))
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out[key] = v
		s = s[colon+1+int(dec.InputOffset()):]
	}
}
