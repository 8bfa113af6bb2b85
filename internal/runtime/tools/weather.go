package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/aicoder/internal/runtime"
)

// Weather is a canned lookup used to exercise the action/observe cycle.
type Weather struct{}

func NewWeather() *Weather { return &Weather{} }

func (w *Weather) Name() string { return "getWeatherInfo" }
func (w *Weather) Description() string {
	return "Get the current weather for a city; input is the city name"
}

func (w *Weather) Execute(_ context.Context, _ *runtime.RunContext, input string) (string, error) {
	city := strings.Trim(strings.TrimSpace(input), `"`)
	if city == "" {
		return "", fmt.Errorf("city is required")
	}
	return fmt.Sprintf("%s has 43 Degree C", city), nil
}
