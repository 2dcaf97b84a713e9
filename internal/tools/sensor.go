package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/janikdotzel/healthcare-agent/internal/ingest"
)

// SensorReader is the view of stored sensor readings the sensor tool needs.
type SensorReader interface {
	ByUser(ctx context.Context, patientID string) ([]ingest.SensorData, error)
}

// SensorTool exposes the per-user sensor view to the model. The tool is
// bound to the requesting user: a call that names any other user is refused,
// so the model cannot read readings across accounts.
func SensorTool(reader SensorReader, boundUserID string) Tool {
	return Tool{
		Name:        "getSensorData",
		Description: "Get all Sensor Data for a specific user",
		Parameters: objectParams([]string{"userId"}, map[string]jsonschema.Definition{
			"userId": {Type: jsonschema.String, Description: "Id of the user"},
		}),
		Handler: func(ctx context.Context, args Args) (string, error) {
			userID, err := args.String("userId")
			if err != nil {
				return "", err
			}
			if userID != boundUserID {
				return "", fmt.Errorf("%w: requested %q", ErrIdentityMismatch, userID)
			}

			readings, err := reader.ByUser(ctx, userID)
			if err != nil {
				return "", err
			}
			if len(readings) == 0 {
				return "no sensor data recorded for " + userID, nil
			}
			b, err := json.Marshal(readings)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
	}
}
