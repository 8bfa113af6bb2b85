package tools

import (
	"context"
	"testing"
)

func TestWeather(t *testing.T) {
	w := NewWeather()
	out, err := w.Execute(context.Background(), nil, "Paris")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Paris has 43 Degree C" {
		t.Errorf("unexpected result %q", out)
	}

	out, _ = w.Execute(context.Background(), nil, ` "Tokyo" `)
	if out != "Tokyo has 43 Degree C" {
		t.Errorf("expected quotes to be stripped, got %q", out)
	}

	if _, err := w.Execute(context.Background(), nil, ""); err == nil {
		t.Error("expected error for empty city")
	}
}
