package repositories

import (
	"context"

	"github.com/satriahrh/voicebridge/domain/entities"
)

// WeatherProvider looks up current conditions for a place name.
type WeatherProvider interface {
	Current(ctx context.Context, location string) (*entities.Weather, error)
}
