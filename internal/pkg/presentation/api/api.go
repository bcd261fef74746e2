package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/diwise/iot-fleet-sync/internal/pkg/application/scheduler"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-fleet-sync/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-fleet-sync/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-fleet-sync/api")

type JobController interface {
	List() []scheduler.JobInfo
	Get(id string) (scheduler.JobInfo, error)
	Pause(ctx context.Context, id string) (scheduler.JobInfo, error)
	Resume(ctx context.Context, id string) (scheduler.JobInfo, error)
	RunNow(ctx context.Context, id string) (scheduler.RunResult, error)
	Remove(ctx context.Context, id string) error
}

//go:generate moq -rm -out notifier_mock.go . Notifier

type Notifier interface {
	ForceNotification(ctx context.Context, serial, notificationType string, channels []string) (notifications.Report, error)
}

// RegisterHandlers mounts the control api on router. Requests to /api/v0
// must carry a HS256 signed bearer token when jwtSecret is set.
func RegisterHandlers(ctx context.Context, router *chi.Mux, jobs JobController, notifier Notifier, jwtSecret string) *chi.Mux {
	log := logging.GetLoggerFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Handle("/metrics", metrics.Handler())

	router.Route("/api/v0", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if jwtSecret != "" {
				tokenAuth := jwtauth.New("HS256", []byte(jwtSecret), nil)
				r.Use(jwtauth.Verifier(tokenAuth))
				r.Use(jwtauth.Authenticator)
			} else {
				log.Warn().Msg("no jwt secret configured, control api is not protected")
			}

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", listJobsHandler(log, jobs))
				r.Get("/{jobID}", getJobHandler(log, jobs))
				r.Post("/{jobID}/pause", pauseJobHandler(log, jobs))
				r.Post("/{jobID}/resume", resumeJobHandler(log, jobs))
				r.Post("/{jobID}/run", runJobHandler(log, jobs))
				r.Delete("/{jobID}", removeJobHandler(log, jobs))
			})

			r.Post("/notifications", forceNotificationHandler(log, notifier))
		})
	})

	return router
}

func listJobsHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		_, span := tracer.Start(r.Context(), "list-jobs")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		result := []types.Job{}
		for _, j := range jobs.List() {
			result = append(result, mapJob(j))
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func getJobHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		_, span := tracer.Start(r.Context(), "get-job")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		jobID := chi.URLParam(r, "jobID")

		info, err := jobs.Get(jobID)
		if err != nil {
			writeError(tracing.AddTraceIDToLogger(span, log), w, err)
			return
		}

		writeJSON(w, http.StatusOK, mapJob(info))
	}
}

func pauseJobHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return jobChangeHandler(log, "pause-job", jobs.Pause)
}

func resumeJobHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return jobChangeHandler(log, "resume-job", jobs.Resume)
}

func jobChangeHandler(log zerolog.Logger, operation string, change func(context.Context, string) (scheduler.JobInfo, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), operation)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		requestLogger := tracing.AddTraceIDToLogger(span, log).With().Str("job_id", chi.URLParam(r, "jobID")).Logger()
		ctx = logging.NewContextWithLogger(ctx, requestLogger)

		info, err := change(ctx, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(requestLogger, w, err)
			return
		}

		requestLogger.Info().Str("operation", operation).Msg("job changed")

		writeJSON(w, http.StatusOK, mapJob(info))
	}
}

func runJobHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "run-job")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		requestLogger := tracing.AddTraceIDToLogger(span, log).With().Str("job_id", chi.URLParam(r, "jobID")).Logger()
		ctx = logging.NewContextWithLogger(ctx, requestLogger)

		result, err := jobs.RunNow(ctx, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(requestLogger, w, err)
			return
		}

		writeJSON(w, http.StatusOK, mapRun(result))
	}
}

func removeJobHandler(log zerolog.Logger, jobs JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "remove-job")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		requestLogger := tracing.AddTraceIDToLogger(span, log)

		err = jobs.Remove(ctx, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(requestLogger, w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func forceNotificationHandler(log zerolog.Logger, notifier Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "force-notification")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		requestLogger := tracing.AddTraceIDToLogger(span, log)
		ctx = logging.NewContextWithLogger(ctx, requestLogger)

		b, err := io.ReadAll(r.Body)
		if err != nil {
			requestLogger.Error().Err(err).Msg("unable to read body")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		req := types.NotificationRequest{}
		err = json.Unmarshal(b, &req)
		if err != nil || req.SerialNumber == "" {
			requestLogger.Error().Err(err).Msg("invalid notification request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		report, err := notifier.ForceNotification(ctx, req.SerialNumber, req.Type, req.Channels)
		if err != nil {
			writeError(requestLogger, w, err)
			return
		}

		status := http.StatusOK
		if report.Err() != nil {
			status = http.StatusBadGateway
		}

		writeJSON(w, status, mapReport(report))
	}
}

func writeError(log zerolog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound), errors.Is(err, database.ErrDeviceNotFound):
		log.Debug().Err(err).Msg("not found")
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, scheduler.ErrJobRunning):
		log.Info().Err(err).Msg("conflict")
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, scheduler.ErrValidation):
		log.Info().Err(err).Msg("bad request")
		w.WriteHeader(http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("request failed")
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
