package defra

import (
	"strings"
	"testing"
)

func TestQueryBuilder_Build(t *testing.T) {
	q, vars := NewQuery("Story").
		Filter("_docID", "bae-1").
		FilterGT("version", int64(2)).
		Fields("_docID", "title", "version").
		OrderBy("created_at", "ASC").
		Limit(5).
		Build()

	want := `query($v0: String, $v1: Int) { Story(filter: {_docID: {_eq: $v0}, version: {_gt: $v1}}, order: {created_at: ASC}, limit: 5) { _docID title version } }`
	if q != want {
		t.Errorf("Build() query =\n%s\nwant\n%s", q, want)
	}
	if vars["v0"] != "bae-1" || vars["v1"] != int64(2) {
		t.Errorf("Build() vars = %+v", vars)
	}
}

func TestQueryBuilder_NoFilters(t *testing.T) {
	q, vars := NewQuery("Story").Build()
	if q != "{ Story { _docID } }" {
		t.Errorf("Build() = %q", q)
	}
	if len(vars) != 0 {
		t.Errorf("expected no vars, got %+v", vars)
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"bae-0b8e3f4a-1234", false},
		{"simple_id", false},
		{"", true},
		{"has space", true},
		{`bae"}`, true},
		{strings.Repeat("a", 501), true},
	}
	for _, tt := range tests {
		if err := ValidateID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}
