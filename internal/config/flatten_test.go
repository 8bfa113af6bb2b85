package config

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{"empty", map[string]any{}, map[string]any{}},
		{
			name: "sections",
			in: map[string]any{
				"log_level": "info",
				"agent":     map[string]any{"mode": "real", "max_iterations": 6.0, "auto_review": true},
				"http":      map[string]any{"rate_per_second": 2.5},
			},
			want: map[string]any{
				"log_level":            "info",
				"agent.mode":           "real",
				"agent.max_iterations": 6.0,
				"agent.auto_review":    true,
				"http.rate_per_second": 2.5,
			},
		},
		{"deep", map[string]any{"a": map[string]any{"b": map[string]any{"c": "x"}}}, map[string]any{"a.b.c": "x"}},
		{"empty section", map[string]any{"redis": map[string]any{}}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Flatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnflatten(t *testing.T) {
	got := Unflatten(map[string]any{
		"data_dir":         "/tmp/aicoder",
		"completion.model": "codestral-latest",
		"completion.max":   2000.0,
		"a.b.c":            "deep",
	})
	want := map[string]any{
		"data_dir":   "/tmp/aicoder",
		"completion": map[string]any{"model": "codestral-latest", "max": 2000.0},
		"a":          map[string]any{"b": map[string]any{"c": "deep"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unflatten() = %v, want %v", got, want)
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	m, err := ToMap(Default())
	if err != nil {
		t.Fatal(err)
	}
	if got := Unflatten(Flatten(m)); !reflect.DeepEqual(got, m) {
		t.Errorf("round trip changed config:\n got %v\nwant %v", got, m)
	}
}

func TestMaskSecrets(t *testing.T) {
	got := MaskSecrets(map[string]any{
		"llm.api_key":        "sk-abcdef123456",
		"gemini.api_key":     "abcd",
		"completion.api_key": "ab",
		"redis.password":     "",
		"telegram.token":     nil,
		"llm.model":          "gpt-4o-mini",
	})
	want := map[string]any{
		"llm.api_key":        "***3456",
		"gemini.api_key":     "***abcd",
		"completion.api_key": "***ab",
		"redis.password":     "",
		"telegram.token":     nil,
		"llm.model":          "gpt-4o-mini",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaskSecrets() = %v, want %v", got, want)
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, k := range []string{"llm.api_key", "gemini.api_key", "completion.api_key", "redis.password", "telegram.token"} {
		if !IsSecretKey(k) {
			t.Errorf("%s should be secret", k)
		}
	}
	for _, k := range []string{"llm.model", "telegram.chat_id", "redis.addr"} {
		if IsSecretKey(k) {
			t.Errorf("%s should not be secret", k)
		}
	}
}
