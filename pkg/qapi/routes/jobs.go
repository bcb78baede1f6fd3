package routes

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/quatton/qremote/pkg/qapi/schemas"
	"github.com/quatton/qremote/pkg/qapi/services/jobs"
	"github.com/quatton/qremote/pkg/qerr"
	"github.com/quatton/qremote/pkg/qjob"
)

// CreateJobInput defines the input for job submission
type CreateJobInput struct {
	Body schemas.CreateJobRequest
}

// JobOutput is the response carrying a single job
type JobOutput struct {
	Body schemas.JobResponse
}

// JobIDInput identifies a job by path
type JobIDInput struct {
	JobID string `path:"jobId" doc:"Job ID"`
}

// ListJobsInput defines the input for listing jobs
type ListJobsInput struct {
	Limit  int `query:"limit" minimum:"0" doc:"Page size, 0 for all"`
	Offset int `query:"offset" minimum:"0" doc:"Number of jobs to skip"`
}

// ListJobsOutput is the response for listing jobs
type ListJobsOutput struct {
	Body schemas.JobListResponse
}

// UpdateJobInput defines the input for a partial job update
type UpdateJobInput struct {
	JobID string `path:"jobId" doc:"Job ID"`
	Body  schemas.UpdateJobRequest
}

// ListArtifactsOutput is the response for listing a job's archived output
type ListArtifactsOutput struct {
	Body struct {
		Artifacts []schemas.ArtifactResponse `json:"artifacts" doc:"Archived output files"`
	}
}

var errUnavailable = huma.Error503ServiceUnavailable("job service not configured")

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, schemas.NewAPIError(qerr.Newf(qerr.CodeNotFound, "job %s does not exist", raw))
	}
	return id, nil
}

// RegisterJobs registers job-related routes
func RegisterJobs(api huma.API, svc *jobs.Service) {
	tags := []string{TagJobs.String()}

	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          "/api/jobs",
		Summary:       "Submit a new job",
		Description:   "Store a queued job and schedule it for execution on the remote host",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateJobInput) (*JobOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		job, err := svc.Create(ctx, jobs.CreateRequest{
			Command:    input.Body.Command,
			Timeout:    input.Body.Timeout,
			Priority:   qjob.Priority(input.Body.Priority),
			Parameters: input.Body.Parameters,
			Streaming:  input.Body.Streaming,
		})
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}
		return &JobOutput{Body: schemas.NewJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List jobs",
		Description: "Page through jobs, newest first",
		Tags:        tags,
	}, func(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		res, err := svc.List(ctx, input.Limit, input.Offset)
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}

		out := &ListJobsOutput{}
		out.Body.TotalCount = res.TotalCount
		out.Body.Jobs = make([]schemas.JobResponse, 0, len(res.Jobs))
		for _, j := range res.Jobs {
			out.Body.Jobs = append(out.Body.Jobs, schemas.NewJobResponse(j))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{jobId}",
		Summary:     "Get job details",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		id, err := parseJobID(input.JobID)
		if err != nil {
			return nil, err
		}
		job, err := svc.Get(ctx, id)
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}
		return &JobOutput{Body: schemas.NewJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-job",
		Method:      http.MethodPatch,
		Path:        "/api/jobs/{jobId}",
		Summary:     "Update a job",
		Description: "Apply a partial update. Finished jobs cannot be changed and the command is frozen once the job leaves Queued.",
		Tags:        tags,
	}, func(ctx context.Context, input *UpdateJobInput) (*JobOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		id, err := parseJobID(input.JobID)
		if err != nil {
			return nil, err
		}

		req := jobs.UpdateRequest{
			Command:    input.Body.Command,
			Timeout:    input.Body.Timeout,
			Parameters: input.Body.Parameters,
		}
		if input.Body.Priority != nil {
			p := qjob.Priority(*input.Body.Priority)
			req.Priority = &p
		}

		job, err := svc.Update(ctx, id, req)
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}
		return &JobOutput{Body: schemas.NewJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-job",
		Method:        http.MethodDelete,
		Path:          "/api/jobs/{jobId}",
		Summary:       "Delete a job",
		Tags:          tags,
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *JobIDInput) (*struct{}, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		id, err := parseJobID(input.JobID)
		if err != nil {
			return nil, err
		}
		if err := svc.Delete(ctx, id); err != nil {
			return nil, schemas.NewAPIError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/api/jobs/{jobId}/cancel",
		Summary:     "Cancel a job",
		Description: "Mark a queued or running job Cancelled, revoke its task and kill its remote process",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		id, err := parseJobID(input.JobID)
		if err != nil {
			return nil, err
		}
		job, err := svc.Cancel(ctx, id)
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}
		return &JobOutput{Body: schemas.NewJobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-artifacts",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{jobId}/artifacts",
		Summary:     "List archived output",
		Description: "List the archived stdout, stderr and record of a finished job with presigned download URLs",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*ListArtifactsOutput, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		id, err := parseJobID(input.JobID)
		if err != nil {
			return nil, err
		}
		arts, err := svc.Artifacts(ctx, id)
		if err != nil {
			return nil, schemas.NewAPIError(err)
		}

		out := &ListArtifactsOutput{}
		out.Body.Artifacts = make([]schemas.ArtifactResponse, 0, len(arts))
		for _, a := range arts {
			out.Body.Artifacts = append(out.Body.Artifacts, schemas.NewArtifactResponse(a))
		}
		return out, nil
	})
}
