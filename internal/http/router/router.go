package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gigbridge/trustcore/internal/domain"
	appmiddleware "github.com/gigbridge/trustcore/internal/http/middleware"
	"github.com/gigbridge/trustcore/internal/http/response"
	"github.com/gigbridge/trustcore/internal/repository"
	"github.com/gigbridge/trustcore/internal/service"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Services struct {
	Sessions  *service.SessionService
	RateLimit *service.RateLimitService
	Fraud     *service.FraudService
	Audit     *service.AuditService
	Abuse     *service.AbuseService
	Messages  *service.MessageService
}

// New assembles the subsystem's HTTP surface. Handlers are thin JSON
// adapters over the services; page rendering lives elsewhere.
func New(svcs Services) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "trustcore")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(appmiddleware.RateLimit(svcs.RateLimit, "auth:login")).
			Post("/sessions", createSession(svcs))
		r.Get("/sessions/validate", validateSession(svcs))
		r.Delete("/sessions", destroySession(svcs))

		r.Post("/captcha", createCaptcha(svcs))
		r.Post("/captcha/{id}/verify", verifyCaptcha(svcs))

		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.SessionAuth(svcs.Sessions))

			r.Post("/sessions/trust", trustDevice(svcs))
			r.Delete("/sessions/all", destroyAllSessions(svcs))

			r.With(appmiddleware.RateLimit(svcs.RateLimit, "reports:submit")).
				Post("/reports", submitReport(svcs))
			r.Post("/reports/{id}/process", processReport(svcs))
			r.Post("/moderation/content", moderateContent(svcs))
			r.Get("/trust/{userID}", getTrustScore(svcs))

			r.With(appmiddleware.RateLimit(svcs.RateLimit, "messages:send")).
				Post("/messages", sendMessage(svcs))
			r.Get("/messages/{id}", readMessage(svcs))
			r.Post("/keys/rotate", rotateKeys(svcs))

			r.Get("/alerts", listAlerts(svcs))
			r.Post("/alerts/{id}/resolve", resolveAlert(svcs))
			r.Get("/reports/security", securityReport(svcs))
		})
	})
	return r
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, service.ErrReporterBlocked),
		errors.Is(err, service.ErrTooManyReports),
		errors.Is(err, service.ErrDuplicateReport):
		response.Error(w, r, http.StatusConflict, "REPORT_REJECTED", err.Error(), nil)
	case errors.Is(err, service.ErrDecryptFailed):
		response.Error(w, r, http.StatusForbidden, "DECRYPT_FAILED", "decryption failed", nil)
	case errors.Is(err, repository.ErrReportNotFound),
		errors.Is(err, repository.ErrProfileNotFound),
		errors.Is(err, repository.ErrTrustScoreNotFound),
		errors.Is(err, repository.ErrAlertNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		// Persistence failures fail secure at the boundary.
		response.Error(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "service unavailable", nil)
	}
}

func createSession(svcs Services) http.HandlerFunc {
	type request struct {
		UserID  string `json:"user_id"`
		Trusted bool   `json:"trusted"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		if locked, until, err := svcs.Audit.IsAccountLocked(r.Context(), req.UserID); err == nil && locked {
			w.Header().Set("Retry-After", until.UTC().Format(http.TimeFormat))
			response.Error(w, r, http.StatusForbidden, "ACCOUNT_LOCKED", "account temporarily locked", nil)
			return
		} else if err != nil {
			writeServiceError(w, r, err)
			return
		}
		token, err := svcs.Sessions.CreateSession(r.Context(), req.UserID, appmiddleware.ClientIP(r), r.UserAgent(), req.Trusted)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusCreated, map[string]string{"token": token})
	}
}

func validateSession(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := appmiddleware.BearerToken(r)
		info, err := svcs.Sessions.ValidateSession(r.Context(), token, appmiddleware.ClientIP(r), r.UserAgent())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if info == nil {
			response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session invalid or expired", map[string]string{"redirect": "/login"})
			return
		}
		response.JSON(w, r, http.StatusOK, info)
	}
}

func destroySession(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := appmiddleware.BearerToken(r)
		destroyed, err := svcs.Sessions.DestroySession(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]bool{"destroyed": destroyed})
	}
}

func destroyAllSessions(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := appmiddleware.PrincipalFromContext(r.Context())
		count, err := svcs.Sessions.DestroyAllUserSessions(r.Context(), userID, appmiddleware.BearerToken(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]int64{"destroyed": count})
	}
}

func trustDevice(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trusted, err := svcs.Sessions.TrustDevice(r.Context(), appmiddleware.BearerToken(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]bool{"trusted": trusted})
	}
}

func createCaptcha(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, err := svcs.Fraud.CreateCaptchaChallenge(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusCreated, challenge)
	}
}

func verifyCaptcha(svcs Services) http.HandlerFunc {
	type request struct {
		Answer int `json:"answer"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		ok, err := svcs.Fraud.VerifyCaptcha(r.Context(), chi.URLParam(r, "id"), req.Answer)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]bool{"verified": ok})
	}
}

func submitReport(svcs Services) http.HandlerFunc {
	type request struct {
		ReportedUserID string         `json:"reported_user_id"`
		Category       string         `json:"category"`
		Description    string         `json:"description"`
		Evidence       map[string]any `json:"evidence,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		reporterID := appmiddleware.PrincipalFromContext(r.Context())
		report, err := svcs.Abuse.SubmitReport(r.Context(), reporterID, req.ReportedUserID, domain.ReportCategory(req.Category), req.Description, req.Evidence)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusCreated, report)
	}
}

func processReport(svcs Services) http.HandlerFunc {
	type request struct {
		Action     string `json:"action"`
		Resolution string `json:"resolution"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		moderatorID := appmiddleware.PrincipalFromContext(r.Context())
		report, err := svcs.Abuse.ProcessReport(r.Context(), chi.URLParam(r, "id"), moderatorID, domain.ModerationAction(req.Action), req.Resolution)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, report)
	}
}

func moderateContent(svcs Services) http.HandlerFunc {
	type request struct {
		Text string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		authorID := appmiddleware.PrincipalFromContext(r.Context())
		result, err := svcs.Abuse.ModerateContent(r.Context(), req.Text, authorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, result)
	}
}

func getTrustScore(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		score, err := svcs.Abuse.GetTrustScore(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, score)
	}
}

func sendMessage(svcs Services) http.HandlerFunc {
	type request struct {
		ReceiverID string `json:"receiver_id"`
		Plaintext  string `json:"plaintext"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := decode(r, &req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "INVALID_INPUT", "malformed body", nil)
			return
		}
		senderID := appmiddleware.PrincipalFromContext(r.Context())
		message, err := svcs.Messages.EncryptMessage(r.Context(), senderID, req.ReceiverID, req.Plaintext)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusCreated, map[string]string{"message_id": message.MessageID})
	}
}

func readMessage(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requesterID := appmiddleware.PrincipalFromContext(r.Context())
		plaintext, err := svcs.Messages.DecryptMessage(r.Context(), chi.URLParam(r, "id"), requesterID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"plaintext": plaintext})
	}
}

func rotateKeys(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := appmiddleware.PrincipalFromContext(r.Context())
		pair, err := svcs.Messages.RotateUserKeys(r.Context(), userID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]int{"key_version": pair.KeyVersion})
	}
}

func listAlerts(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := svcs.Audit.ListUnresolvedAlerts(100)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, alerts)
	}
}

func resolveAlert(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resolvedBy := appmiddleware.PrincipalFromContext(r.Context())
		changed, err := svcs.Audit.ResolveAlert(r.Context(), chi.URLParam(r, "id"), resolvedBy)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]bool{"resolved": changed})
	}
}

func securityReport(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		end := time.Now().UTC()
		start := end.Add(-24 * time.Hour)
		if v := r.URL.Query().Get("start"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				start = t
			}
		}
		if v := r.URL.Query().Get("end"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				end = t
			}
		}
		report, err := svcs.Audit.GenerateSecurityReport(r.Context(), start, end, r.URL.Query().Get("user_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, r, http.StatusOK, report)
	}
}
