package util

import (
	"net/url"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "shorter than maxLen", input: "short", maxLen: 10, want: "short"},
		{name: "equal to maxLen", input: "exactly10c", maxLen: 10, want: "exactly10c"},
		{name: "longer than maxLen", input: "this-is-a-very-long-code-string", maxLen: 8, want: "this-is-"},
		{name: "empty string", input: "", maxLen: 5, want: ""},
		{name: "maxLen is zero", input: "test", maxLen: 0, want: ""},
		{name: "maxLen is negative", input: "test", maxLen: -1, want: ""},
		{name: "multibyte boundary", input: "hello世界test", maxLen: 8, want: "hello世"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeTruncate(tt.input, tt.maxLen)
			if got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestAppendQuery(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		params  url.Values
		want    string
		wantErr bool
	}{
		{
			name:   "relative path",
			rawURL: "/login",
			params: url.Values{"code": {"abc"}, "state": {"s1"}},
			want:   "/login?code=abc&state=s1",
		},
		{
			name:   "absolute url with existing query",
			rawURL: "https://auth.example.com/login?lang=en",
			params: url.Values{"code": {"abc"}},
			want:   "https://auth.example.com/login?code=abc&lang=en",
		},
		{
			name:   "replaces existing parameter",
			rawURL: "/login?state=old",
			params: url.Values{"state": {"new"}},
			want:   "/login?state=new",
		},
		{
			name:   "escapes values",
			rawURL: "/login",
			params: url.Values{"state": {"a b&c"}},
			want:   "/login?state=a+b%26c",
		},
		{
			name:    "invalid url",
			rawURL:  "://bad",
			params:  url.Values{"code": {"abc"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AppendQuery(tt.rawURL, tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AppendQuery() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AppendQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}
