package api

import (
	"log/slog"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	custommw "github.com/quorumlabs/identity/internal/api/middleware"
	"github.com/quorumlabs/identity/internal/auth"
	"github.com/quorumlabs/identity/internal/storage"
)

type Server struct {
	Router *chi.Mux
	Store  storage.Store
	Logger *slog.Logger
}

func NewServer(
	store storage.Store,
	authService *auth.AuthService,
	inviteService *auth.InviteService,
	tokenProvider auth.TokenProvider,
) *Server {
	r := chi.NewRouter()

	// 1. Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// 2. Sentry (before panic recovery so panics are captured)
	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	// 3. Logger & recovery
	r.Use(custommw.RequestLogger)
	r.Use(custommw.PanicRecovery)

	// 4. Rate limiting
	limiter := custommw.NewIPRateLimiter(5, 10) // 5 RPS, burst 10
	r.Use(limiter.Middleware)

	// 5. Auth factory for protected routes
	requireAuth := custommw.AuthMiddleware(tokenProvider)

	authHandler := NewAuthHandler(authService, tokenProvider)
	inviteHandler := NewInviteHandler(inviteService, store)

	r.Get("/health", HealthCheck(store))
	r.Get("/.well-known/jwks.json", authHandler.GetJWKS)

	r.Route("/api/v1", func(r chi.Router) {

		// Public routes
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/verify-otp", authHandler.VerifyOTP)
		r.Post("/auth/verify-totp", authHandler.VerifyTOTP)
		r.Post("/auth/totp/confirm", authHandler.ConfirmTOTP)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/logout", authHandler.Logout)

		// Invite redemption is public by design: the token is the credential.
		r.Post("/invites/accept", inviteHandler.Accept)
		r.Get("/invites/details/{token}", inviteHandler.Details)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Post("/auth/totp/setup", authHandler.SetupTOTP)
			r.Post("/auth/mfa/change", authHandler.ChangeMFAMethod)
			r.Post("/auth/logout-all", authHandler.LogoutAll)

			r.Post("/organizations/mfa", authHandler.ChangeOrganizationMFA)

			r.Post("/invites", inviteHandler.Create)
			r.Get("/invites", inviteHandler.List)
			r.Post("/invites/{id}/revoke", inviteHandler.Revoke)
		})
	})

	return &Server{
		Router: r,
		Store:  store,
		Logger: slog.Default(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
