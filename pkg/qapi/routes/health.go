package routes

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type HealthOutput struct {
	Body struct {
		Status string            `json:"status" example:"ok" doc:"ok when every dependency answered"`
		Checks map[string]string `json:"checks,omitempty" doc:"Per dependency result"`
	}
}

// RegisterHealth exposes /healthz. A failing check turns the response into
// a 503 that still lists every result.
func RegisterHealth(api huma.API, checks map[string]func(context.Context) error) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns the health of the server and its backends",
		Tags:        []string{TagGeneral.String()},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		resp := &HealthOutput{}
		resp.Body.Status = "ok"

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		var failed []error
		if len(names) > 0 {
			resp.Body.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := checks[name](checkCtx)
			cancel()
			if err != nil {
				resp.Body.Checks[name] = err.Error()
				failed = append(failed, err)
				continue
			}
			resp.Body.Checks[name] = "ok"
		}

		if len(failed) > 0 {
			return nil, huma.Error503ServiceUnavailable("unhealthy", failed...)
		}
		return resp, nil
	})
}
