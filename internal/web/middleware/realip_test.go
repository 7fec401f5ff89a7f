package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseTrustedProxies(t *testing.T) {
	prefixes, errs := ParseTrustedProxies([]string{"10.0.0.0/8", " 127.0.0.1 ", "", "::1", "not-an-ip"})

	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
	want := []string{"10.0.0.0/8", "127.0.0.1/32", "::1/128"}
	if len(prefixes) != len(want) {
		t.Fatalf("got %d prefixes, want %d: %v", len(prefixes), len(want), prefixes)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %s, want %s", i, p, want[i])
		}
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "untrusted peer keeps socket address",
			remoteAddr: "203.0.113.9:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "203.0.113.9:5000",
		},
		{
			name:       "trusted proxy with X-Real-IP",
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Real-IP": "198.51.100.1"},
			want:       "198.51.100.1",
		},
		{
			name:       "trusted proxy with forwarded chain",
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 10.1.2.3"},
			want:       "198.51.100.7",
		},
		{
			name:       "X-Real-IP wins over X-Forwarded-For",
			remoteAddr: "10.1.2.3:5000",
			headers: map[string]string{
				"X-Real-IP":       "198.51.100.1",
				"X-Forwarded-For": "198.51.100.7",
			},
			want: "198.51.100.1",
		},
		{
			name:       "garbage header ignored",
			remoteAddr: "10.1.2.3:5000",
			headers:    map[string]string{"X-Real-IP": "localhost"},
			want:       "10.1.2.3:5000",
		},
		{
			name:       "trusted proxy without headers",
			remoteAddr: "10.1.2.3:5000",
			want:       "10.1.2.3:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP([]string{"10.0.0.0/8"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), r)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}
