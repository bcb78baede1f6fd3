package routes

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/qremote/pkg/qapi/services"
)

// RegisterAPI registers every huma operation. A nil container registers the
// operations without backends, which is enough to render the OpenAPI spec.
func RegisterAPI(api huma.API, svcs *services.Services) {
	if svcs == nil {
		svcs = services.EmptyServices()
	}
	RegisterIndex(api)
	RegisterHealth(api, svcs.Checks)
	RegisterJobs(api, svcs.Jobs)
}
