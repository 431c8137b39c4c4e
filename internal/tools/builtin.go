package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/benbjohnson/clock"

	"github.com/satriahrh/voicebridge/domain/repositories"
)

// ErrMissingArgument is returned by handlers when a required string is blank.
var ErrMissingArgument = errors.New("missing argument")

type weatherArgs struct {
	City string `json:"city" jsonschema:"city name, optionally with country, e.g. Paris or Paris, France"`
}

// NewWeatherTool exposes current conditions as get_weather.
func NewWeatherTool(provider repositories.WeatherProvider) (*Tool, error) {
	return NewTool("get_weather", "Get the current weather for a city.",
		func(ctx context.Context, args weatherArgs) (Result, error) {
			city := strings.TrimSpace(args.City)
			if city == "" {
				return nil, fmt.Errorf("%w: city", ErrMissingArgument)
			}
			w, err := provider.Current(ctx, city)
			if err != nil {
				return nil, err
			}
			return Result{
				"location":      w.Location,
				"country":       w.Country,
				"temperature_c": w.TemperatureC,
				"wind_kph":      w.WindKph,
				"conditions":    w.Conditions,
				"observed_at":   w.ObservedAt.Format(time.RFC3339),
			}, nil
		})
}

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"IANA time zone such as Europe/Paris; defaults to UTC"`
}

// NewTimeTool exposes the current time as get_time.
func NewTimeTool(clk clock.Clock) (*Tool, error) {
	return NewTool("get_time", "Get the current date and time, optionally in a given time zone.",
		func(ctx context.Context, args timeArgs) (Result, error) {
			name := args.Timezone
			if name == "" {
				name = "UTC"
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", name)
			}
			now := clk.Now().In(loc)
			return Result{
				"timezone": name,
				"time":     now.Format(time.RFC3339),
				"weekday":  now.Weekday().String(),
			}, nil
		})
}

type expertArgs struct {
	Question string `json:"question" jsonschema:"a self-contained question for the expert"`
}

// NewExpertTool lets the voice agent consult a text model as ask_expert.
func NewExpertTool(model repositories.KnowledgeModel) (*Tool, error) {
	return NewTool("ask_expert", "Ask a knowledgeable text model a detailed question and get a concise answer.",
		func(ctx context.Context, args expertArgs) (Result, error) {
			q := strings.TrimSpace(args.Question)
			if q == "" {
				return nil, fmt.Errorf("%w: question", ErrMissingArgument)
			}
			answer, err := model.Ask(ctx, q)
			if err != nil {
				return nil, err
			}
			return Result{"answer": answer}, nil
		})
}

// Dependencies are the collaborators of the built-in tools. Nil providers
// leave their tool out.
type Dependencies struct {
	Clock   clock.Clock
	Weather repositories.WeatherProvider
	Expert  repositories.KnowledgeModel
}

// NewDefaultRegistry registers every built-in tool whose dependency is set.
func NewDefaultRegistry(deps Dependencies) (*Registry, error) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	r := NewRegistry()

	builders := []func() (*Tool, error){
		func() (*Tool, error) { return NewTimeTool(deps.Clock) },
	}
	if deps.Weather != nil {
		builders = append(builders, func() (*Tool, error) { return NewWeatherTool(deps.Weather) })
	}
	if deps.Expert != nil {
		builders = append(builders, func() (*Tool, error) { return NewExpertTool(deps.Expert) })
	}

	for _, build := range builders {
		tool, err := build()
		if err != nil {
			return nil, err
		}
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}
