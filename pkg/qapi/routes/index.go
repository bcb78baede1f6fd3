package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type Tag string

const (
	TagGeneral Tag = "General"
	TagJobs    Tag = "Jobs"
)

func (t Tag) String() string { return string(t) }

type RootOutput struct {
	Body struct {
		Message string `json:"message" example:"qremote is running" doc:"Welcome message"`
		Docs    string `json:"docs" example:"/docs" doc:"Path of the API reference"`
	}
}

func RegisterIndex(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-root",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Root endpoint",
		Description: "Returns a welcome message",
		Tags:        []string{TagGeneral.String()},
	}, func(ctx context.Context, input *struct{}) (*RootOutput, error) {
		resp := &RootOutput{}
		resp.Body.Message = "qremote is running"
		resp.Body.Docs = "/docs"
		return resp, nil
	})
}
