package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/medibook/telehealth-platform/internal/account"
	"github.com/medibook/telehealth-platform/internal/availability"
	"github.com/medibook/telehealth-platform/internal/booking"
	"github.com/medibook/telehealth-platform/internal/ledger"
	"github.com/medibook/telehealth-platform/internal/payout"
	"github.com/medibook/telehealth-platform/pkg/logging"
)

type RouterConfig struct {
	Accounts     *account.Service
	Availability *availability.Service
	Booking      *booking.Service
	Ledger       *ledger.Service
	Payouts      *payout.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       *logging.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health and metrics endpoints stay outside the authenticated surface.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.Accounts))

		// Availability
		r.Post("/availability", createSlotsHandler(cfg.Availability))
		r.Get("/availability", listAvailabilityHandler(cfg.Availability))
		r.Patch("/availability/{slotID}", updateSlotHandler(cfg.Availability))
		r.Delete("/availability/{slotID}", deleteSlotHandler(cfg.Availability))

		// Appointments
		r.Post("/appointments", createAppointmentHandler(cfg.Booking))
		r.Get("/appointments", listAppointmentsHandler(cfg.Booking))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Booking))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Booking))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Booking))

		// Payouts
		r.Post("/payouts", requestPayoutHandler(cfg.Payouts))
		r.Get("/payouts", listPayoutsHandler(cfg.Payouts))
		r.Post("/payouts/{id}/approve", approvePayoutHandler(cfg.Payouts))
		r.Post("/payouts/{id}/reject", rejectPayoutHandler(cfg.Payouts))

		// Credits
		r.Post("/credits/purchase", purchaseCreditsHandler(cfg.Ledger))
		r.Post("/credits/allocate-monthly", allocateMonthlyHandler(cfg.Ledger))
		r.Post("/credits/adjust", adjustCreditsHandler(cfg.Ledger))
		r.Get("/credits/balance", balanceHandler(cfg.Ledger))
		r.Get("/credits/ledger", ledgerEntriesHandler(cfg.Ledger))

		// Doctor verification and onboarding
		r.Post("/doctors/{id}/review", reviewDoctorHandler(cfg.Accounts))
		r.Post("/doctors/me/price", setPriceHandler(cfg.Accounts))
	})

	return r
}
